package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirstore/internal/registry"
)

func TestResourceCapability_ListsRegisteredSearchParams(t *testing.T) {
	reg := registry.New()
	reg.AddProfile(registry.CanonicalProfile{Type: "Patient", Kind: "resource"})
	reg.AddSearchParam(registry.SearchParam{Code: "name", Type: "string", Expression: "Patient.name.text", Base: []string{"Patient"}})
	reg.Seal()

	s := &Server{reg: reg}
	cap := s.resourceCapability("Patient")

	assert.Equal(t, "Patient", cap["type"])
	params, ok := cap["searchParam"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, params, 1)
	assert.Equal(t, "name", params[0]["name"])
	assert.Equal(t, "string", params[0]["type"])
}

func TestResourceCapability_IncludesCoreInteractions(t *testing.T) {
	reg := registry.New()
	reg.Seal()
	s := &Server{reg: reg}
	cap := s.resourceCapability("Patient")
	interactions, ok := cap["interaction"].([]map[string]string)
	require.True(t, ok)
	assert.Len(t, interactions, len(restInteractions))
}
