package fhirmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSearchBundle_PopulatesFullURLAndTotal(t *testing.T) {
	resources := []map[string]interface{}{
		{"resourceType": "Patient", "id": "abc"},
	}
	b := NewSearchBundle(resources, SearchBundleParams{BaseURL: "http://x/Patient", Count: 20, Offset: 0, Total: 1})
	require.Len(t, b.Entry, 1)
	assert.Equal(t, "http://x/Patient/Patient/abc", b.Entry[0].FullURL)
	require.NotNil(t, b.Total)
	assert.Equal(t, 1, *b.Total)
}

func TestBuildPaginationLinks_NextWhenMoreResultsExist(t *testing.T) {
	links := buildPaginationLinks(SearchBundleParams{BaseURL: "http://x", Count: 10, Offset: 0, Total: 25})
	var rels []string
	for _, l := range links {
		rels = append(rels, l.Relation)
	}
	assert.Contains(t, rels, "self")
	assert.Contains(t, rels, "next")
	assert.NotContains(t, rels, "previous")
}

func TestBuildPaginationLinks_PreviousWhenOffsetPositive(t *testing.T) {
	links := buildPaginationLinks(SearchBundleParams{BaseURL: "http://x", Count: 10, Offset: 10, Total: 25})
	var rels []string
	for _, l := range links {
		rels = append(rels, l.Relation)
	}
	assert.Contains(t, rels, "previous")
}

func TestNewTransactionResponse_SetsType(t *testing.T) {
	b := NewTransactionResponse(nil)
	assert.Equal(t, "transaction-response", b.Type)
}
