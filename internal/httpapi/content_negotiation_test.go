package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsJSONFormat_AcceptsKnownAliases(t *testing.T) {
	assert.True(t, isJSONFormat("json"))
	assert.True(t, isJSONFormat("application/fhir+json"))
	assert.True(t, isJSONFormat("APPLICATION/FHIR JSON"))
	assert.False(t, isJSONFormat("xml"))
}

func TestIsXMLFormat_AcceptsKnownAliases(t *testing.T) {
	assert.True(t, isXMLFormat("xml"))
	assert.True(t, isXMLFormat("application/fhir+xml"))
	assert.False(t, isXMLFormat("json"))
}

func TestNegotiateAccept_FindsJSONAmongMultipleTypes(t *testing.T) {
	assert.True(t, negotiateAccept("text/html;q=0.9, application/fhir+json;q=0.8"))
	assert.True(t, negotiateAccept("*/*"))
	assert.False(t, negotiateAccept("application/fhir+xml"))
}
