package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ehr/fhirstore/internal/apperror"
	"github.com/ehr/fhirstore/internal/fhirmodel"
)

// methodSortOrder is the FHIR transaction processing order: interdependent
// writes go DELETE, POST, PUT/PATCH, then GET/HEAD so that creates run
// before updates that might reference them and reads run last.
var methodSortOrder = map[string]int{
	"DELETE": 0,
	"POST":   1,
	"PUT":    2,
	"PATCH":  2,
	"GET":    3,
	"HEAD":   3,
}

// EntryResult is what ResourceHandler reports back for one processed
// Bundle entry.
type EntryResult struct {
	Status       string
	Location     string
	ETag         string
	LastModified string
	Resource     map[string]interface{}
	Outcome      *fhirmodel.OperationOutcome
}

// ResourceHandler performs the actual CRUD operation named by an entry's
// method and URL, returning the outcome to render into the response Bundle.
type ResourceHandler func(ctx context.Context, method, url string, resource map[string]interface{}) (*EntryResult, error)

// ProcessTransaction runs every entry of a transaction Bundle inside a
// single database transaction, ordered DELETE/POST/PUT-PATCH/GET-HEAD, with
// urn:uuid references created earlier in the bundle resolved to their
// assigned resource IDs before later entries run. Any entry failure aborts
// the whole bundle.
func (r *Repository) ProcessTransaction(ctx context.Context, entries []fhirmodel.BundleEntry, handle ResourceHandler) (*fhirmodel.Bundle, error) {
	sorted := sortTransactionEntries(entries)

	var responseEntries []fhirmodel.BundleEntry
	err := r.RunInTransaction(ctx, func(ctx context.Context) error {
		idMap := make(map[string]string)
		responseEntries = make([]fhirmodel.BundleEntry, len(sorted))

		for i, entry := range sorted {
			resource, err := fhirmodel.DecodeResource(entry.Resource)
			if err != nil {
				return apperror.Invalidf("entry %d: %v", i, err)
			}
			if resource != nil && len(idMap) > 0 {
				resolveURNRefs(resource, idMap)
			}
			method, reqURL := entryRequest(entry)
			url := replaceURNRefs(reqURL, idMap)

			result, err := handle(ctx, method, url, resource)
			if err != nil {
				return apperror.Wrap(apperror.KindOf(err), fmt.Sprintf("transaction failed at entry %d (%s %s)", i, method, reqURL), err)
			}

			if entry.FullURL != "" && strings.HasPrefix(entry.FullURL, "urn:uuid:") && result.Location != "" {
				idMap[entry.FullURL] = result.Location
			}
			responseEntries[i] = entryFromResult(result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return fhirmodel.NewTransactionResponse(responseEntries), nil
}

// ProcessBatch runs each entry of a batch Bundle independently: a failing
// entry's outcome is captured in its own response slot and processing of
// the remaining entries continues.
func (r *Repository) ProcessBatch(ctx context.Context, entries []fhirmodel.BundleEntry, handle ResourceHandler) *fhirmodel.Bundle {
	responseEntries := make([]fhirmodel.BundleEntry, len(entries))

	for i, entry := range entries {
		resource, err := fhirmodel.DecodeResource(entry.Resource)
		if err != nil {
			responseEntries[i] = failedEntry(err)
			continue
		}
		method, reqURL := entryRequest(entry)
		result, err := handle(ctx, method, reqURL, resource)
		if err != nil {
			responseEntries[i] = failedEntry(err)
			continue
		}
		responseEntries[i] = entryFromResult(result)
	}

	return fhirmodel.NewBatchResponse(responseEntries)
}

func sortTransactionEntries(entries []fhirmodel.BundleEntry) []fhirmodel.BundleEntry {
	sorted := make([]fhirmodel.BundleEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		mi, _ := entryRequest(sorted[i])
		mj, _ := entryRequest(sorted[j])
		return methodSortOrder[mi] < methodSortOrder[mj]
	})
	return sorted
}

// entryRequest safely reads an entry's method and URL; a Bundle entry with
// no request (malformed input) sorts as a GET and is handed to the handler
// as a GET with an empty URL.
func entryRequest(entry fhirmodel.BundleEntry) (method, url string) {
	if entry.Request == nil {
		return "GET", ""
	}
	return entry.Request.Method, entry.Request.URL
}

// resolveURNRefs walks resource and replaces any reference element whose
// value matches a urn:uuid already assigned a real id earlier in the bundle.
func resolveURNRefs(resource map[string]interface{}, idMap map[string]string) {
	var walk func(v interface{}) interface{}
	walk = func(v interface{}) interface{} {
		switch val := v.(type) {
		case map[string]interface{}:
			for k, child := range val {
				if k == "reference" {
					if ref, ok := child.(string); ok {
						if mapped, found := idMap[ref]; found {
							val[k] = mapped
							continue
						}
					}
				}
				val[k] = walk(child)
			}
			return val
		case []interface{}:
			for i, item := range val {
				val[i] = walk(item)
			}
			return val
		default:
			return val
		}
	}
	walk(resource)
}

func replaceURNRefs(s string, idMap map[string]string) string {
	for urn, actual := range idMap {
		s = strings.ReplaceAll(s, urn, actual)
	}
	return s
}

func entryFromResult(result *EntryResult) fhirmodel.BundleEntry {
	var lastMod *time.Time
	if result.LastModified != "" {
		if t, err := time.Parse(time.RFC3339, result.LastModified); err == nil {
			lastMod = &t
		}
	}
	return fhirmodel.BundleEntry{
		FullURL: result.Location,
		Response: &fhirmodel.BundleResponse{
			Status:       result.Status,
			Location:     result.Location,
			Etag:         result.ETag,
			LastModified: lastMod,
			Outcome:      result.Outcome,
		},
	}
}

func failedEntry(err error) fhirmodel.BundleEntry {
	return fhirmodel.BundleEntry{
		Response: &fhirmodel.BundleResponse{
			Status:  "400 Bad Request",
			Outcome: fhirmodel.ErrorOutcome(err.Error()),
		},
	}
}
