package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEntryURL_TypeOnly(t *testing.T) {
	rt, id, query, err := splitEntryURL("Patient")
	require.NoError(t, err)
	assert.Equal(t, "Patient", rt)
	assert.Empty(t, id)
	assert.Empty(t, query)
}

func TestSplitEntryURL_TypeAndID(t *testing.T) {
	rt, id, _, err := splitEntryURL("Patient/123")
	require.NoError(t, err)
	assert.Equal(t, "Patient", rt)
	assert.Equal(t, "123", id)
}

func TestSplitEntryURL_WithQuery(t *testing.T) {
	rt, id, query, err := splitEntryURL("Patient?identifier=mrn-1")
	require.NoError(t, err)
	assert.Equal(t, "Patient", rt)
	assert.Empty(t, id)
	assert.Equal(t, "identifier=mrn-1", query)
}

func TestSplitEntryURL_EmptyTypeErrors(t *testing.T) {
	_, _, _, err := splitEntryURL("")
	assert.Error(t, err)
}

func TestDecodeEntries_BuildsRequestAndResource(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{
			"fullUrl": "urn:uuid:1",
			"resource": map[string]interface{}{
				"resourceType": "Patient",
			},
			"request": map[string]interface{}{
				"method": "POST",
				"url":    "Patient",
			},
		},
	}
	entries, err := decodeEntries(raw)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "urn:uuid:1", entries[0].FullURL)
	assert.Equal(t, "POST", entries[0].Request.Method)
	assert.Equal(t, "Patient", entries[0].Request.URL)
	assert.Contains(t, string(entries[0].Resource), `"resourceType":"Patient"`)
}

func TestDecodeEntries_SkipsNonMapItems(t *testing.T) {
	entries, err := decodeEntries([]interface{}{"not-a-map"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDecodeEntries_NilInputIsEmpty(t *testing.T) {
	entries, err := decodeEntries(nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
