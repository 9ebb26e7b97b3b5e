package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirstore/internal/fhirmodel"
)

func entry(method, url string, resource map[string]interface{}, fullURL string) fhirmodel.BundleEntry {
	var raw json.RawMessage
	if resource != nil {
		raw, _ = json.Marshal(resource)
	}
	return fhirmodel.BundleEntry{
		FullURL:  fullURL,
		Resource: raw,
		Request:  &fhirmodel.BundleRequest{Method: method, URL: url},
	}
}

func TestSortTransactionEntries_OrdersDeletePostPutGet(t *testing.T) {
	entries := []fhirmodel.BundleEntry{
		entry("GET", "Patient/1", nil, ""),
		entry("PUT", "Patient/2", map[string]interface{}{"id": "2"}, ""),
		entry("DELETE", "Patient/3", nil, ""),
		entry("POST", "Patient", map[string]interface{}{}, "urn:uuid:abc"),
	}
	sorted := sortTransactionEntries(entries)

	var methods []string
	for _, e := range sorted {
		m, _ := entryRequest(e)
		methods = append(methods, m)
	}
	assert.Equal(t, []string{"DELETE", "POST", "PUT", "GET"}, methods)
}

func TestSortTransactionEntries_StableWithinSameMethod(t *testing.T) {
	entries := []fhirmodel.BundleEntry{
		entry("POST", "Observation", map[string]interface{}{"id": "a"}, ""),
		entry("POST", "Observation", map[string]interface{}{"id": "b"}, ""),
	}
	sorted := sortTransactionEntries(entries)
	first, _ := fhirmodel.DecodeResource(sorted[0].Resource)
	second, _ := fhirmodel.DecodeResource(sorted[1].Resource)
	assert.Equal(t, "a", first["id"])
	assert.Equal(t, "b", second["id"])
}

func TestResolveURNRefs_ReplacesMatchingReference(t *testing.T) {
	resource := map[string]interface{}{
		"subject": map[string]interface{}{"reference": "urn:uuid:1234"},
	}
	resolveURNRefs(resource, map[string]string{"urn:uuid:1234": "Patient/abc"})

	subject := resource["subject"].(map[string]interface{})
	assert.Equal(t, "Patient/abc", subject["reference"])
}

func TestResolveURNRefs_LeavesUnmappedReferenceUntouched(t *testing.T) {
	resource := map[string]interface{}{
		"subject": map[string]interface{}{"reference": "Patient/existing"},
	}
	resolveURNRefs(resource, map[string]string{"urn:uuid:1234": "Patient/abc"})

	subject := resource["subject"].(map[string]interface{})
	assert.Equal(t, "Patient/existing", subject["reference"])
}

func TestReplaceURNRefs_RewritesURL(t *testing.T) {
	url := replaceURNRefs("urn:uuid:1234/_history/1", map[string]string{"urn:uuid:1234": "Patient/abc"})
	assert.Equal(t, "Patient/abc/_history/1", url)
}

func TestEntryRequest_NilRequestDefaultsToGet(t *testing.T) {
	method, url := entryRequest(fhirmodel.BundleEntry{})
	assert.Equal(t, "GET", method)
	assert.Equal(t, "", url)
}

func TestProcessBatch_CapturesPerEntryFailureAndContinues(t *testing.T) {
	entries := []fhirmodel.BundleEntry{
		entry("POST", "Patient", map[string]interface{}{"id": "1"}, ""),
		entry("POST", "Patient", map[string]interface{}{"id": "2"}, ""),
	}

	repo := &Repository{}
	bundle := repo.ProcessBatch(context.Background(), entries, func(ctx context.Context, method, url string, resource map[string]interface{}) (*EntryResult, error) {
		id, _ := resource["id"].(string)
		if id == "2" {
			return nil, assertError{"second entry failed"}
		}
		return &EntryResult{Status: "201 Created", Location: "Patient/" + id}, nil
	})

	require.Len(t, bundle.Entry, 2)
	assert.Equal(t, "201 Created", bundle.Entry[0].Response.Status)
	assert.Equal(t, "400 Bad Request", bundle.Entry[1].Response.Status)
}

func TestFailedEntry_BuildsOperationOutcomeResponse(t *testing.T) {
	e := failedEntry(assertError{"boom"})
	require.NotNil(t, e.Response)
	assert.Equal(t, "400 Bad Request", e.Response.Status)
	oo, ok := e.Response.Outcome.(*fhirmodel.OperationOutcome)
	require.True(t, ok)
	assert.Equal(t, "boom", oo.Issue[0].Diagnostics)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
