package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirstore/internal/apperror"
	"github.com/ehr/fhirstore/internal/fhirmodel"
	"github.com/ehr/fhirstore/internal/repository"
	"github.com/ehr/fhirstore/internal/search"
)

// handleBundle implements POST / : a transaction Bundle runs every entry
// inside one database transaction (any failure rolls the whole bundle
// back), a batch Bundle runs each entry independently and reports
// per-entry outcomes.
func (s *Server) handleBundle(c echo.Context) error {
	resource, err := decodeBody(c)
	if err != nil {
		return writeError(c, err)
	}
	if rt, _ := resource["resourceType"].(string); rt != "Bundle" {
		return writeError(c, apperror.Invalidf("request body must be a Bundle"))
	}

	bundleType, _ := resource["type"].(string)
	entries, err := decodeEntries(resource["entry"])
	if err != nil {
		return writeError(c, err)
	}

	switch bundleType {
	case "transaction":
		result, err := s.repo.ProcessTransaction(c.Request().Context(), entries, s.handleBundleEntry)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, result)
	case "batch":
		result := s.repo.ProcessBatch(c.Request().Context(), entries, s.handleBundleEntry)
		return c.JSON(http.StatusOK, result)
	default:
		return writeError(c, apperror.Invalidf("Bundle.type must be transaction or batch, got %q", bundleType))
	}
}

// decodeEntries re-marshals the decoded entry trees back into
// []fhirmodel.BundleEntry so ProcessTransaction/ProcessBatch see typed
// Request/Resource fields instead of opaque maps.
func decodeEntries(raw interface{}) ([]fhirmodel.BundleEntry, error) {
	list, _ := raw.([]interface{})
	entries := make([]fhirmodel.BundleEntry, 0, len(list))
	for _, item := range list {
		m, _ := item.(map[string]interface{})
		if m == nil {
			continue
		}
		var entry fhirmodel.BundleEntry
		if fullURL, ok := m["fullUrl"].(string); ok {
			entry.FullURL = fullURL
		}
		if resBody, ok := m["resource"].(map[string]interface{}); ok {
			raw, err := fhirmodel.MarshalResource(resBody)
			if err != nil {
				return nil, apperror.Invalidf("marshal bundle entry resource: %v", err)
			}
			entry.Resource = raw
		}
		if reqMap, ok := m["request"].(map[string]interface{}); ok {
			method, _ := reqMap["method"].(string)
			reqURL, _ := reqMap["url"].(string)
			entry.Request = &fhirmodel.BundleRequest{Method: method, URL: reqURL}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// handleBundleEntry is the repository.ResourceHandler every bundle entry
// runs through: it maps an entry's method/url onto the same
// Create/Read/Update/Delete/search calls the top-level REST routes use.
func (s *Server) handleBundleEntry(ctx context.Context, method, rawURL string, resource map[string]interface{}) (*repository.EntryResult, error) {
	resourceType, id, query, err := splitEntryURL(rawURL)
	if err != nil {
		return nil, err
	}

	switch strings.ToUpper(method) {
	case "POST":
		created, err := s.repo.Create(ctx, resourceType, resource, "")
		if err != nil {
			return nil, err
		}
		cid, _ := created["id"].(string)
		return &repository.EntryResult{
			Status:   "201 Created",
			Location: resourceType + "/" + cid,
			ETag:     weakETag(metaVersion(created)),
			Resource: created,
		}, nil

	case "PUT":
		if resource != nil {
			resource["id"] = id
			resource["resourceType"] = resourceType
		}
		updated, err := s.repo.Update(ctx, resourceType, resource, "")
		if err != nil {
			return nil, err
		}
		return &repository.EntryResult{
			Status:   "200 OK",
			Location: resourceType + "/" + id,
			ETag:     weakETag(metaVersion(updated)),
			Resource: updated,
		}, nil

	case "DELETE":
		if err := s.repo.Delete(ctx, resourceType, id); err != nil {
			return nil, err
		}
		return &repository.EntryResult{Status: "204 No Content"}, nil

	case "GET", "HEAD":
		if id != "" {
			found, err := s.repo.Read(ctx, resourceType, id)
			if err != nil {
				return nil, err
			}
			return &repository.EntryResult{Status: "200 OK", Resource: found}, nil
		}
		values, _ := url.ParseQuery(query)
		req := search.Parse(resourceType, values)
		bundle, err := s.engine.Execute(ctx, req, "")
		if err != nil {
			return nil, err
		}
		raw, err := fhirmodel.MarshalResource(map[string]interface{}{
			"resourceType": bundle.ResourceType, "type": bundle.Type, "entry": bundle.Entry,
		})
		if err != nil {
			return nil, apperror.Wrap(apperror.DatabaseError, "marshal bundle search result", err)
		}
		decoded, _ := fhirmodel.DecodeResource(raw)
		return &repository.EntryResult{Status: "200 OK", Resource: decoded}, nil

	default:
		return nil, apperror.Invalidf("unsupported bundle entry method %q", method)
	}
}

// splitEntryURL splits a bundle entry's request URL ("Patient",
// "Patient/123", or "Patient?identifier=mrn-1") into its resource type, id,
// and query string.
func splitEntryURL(raw string) (resourceType, id, query string, err error) {
	path := raw
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		path, query = raw[:i], raw[i+1:]
	}
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "" {
		return "", "", "", apperror.Invalidf("empty resource type in bundle entry url %q", raw)
	}
	resourceType = parts[0]
	if len(parts) == 2 {
		id = parts[1]
	}
	return resourceType, id, query, nil
}
