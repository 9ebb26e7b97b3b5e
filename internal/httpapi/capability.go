package httpapi

import (
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// handleCapability implements GET /metadata, building a CapabilityStatement
// from whatever resource types and search parameters the registry actually
// knows about rather than a hand-maintained list.
func (s *Server) handleCapability(c echo.Context) error {
	types := s.reg.TableResourceTypes()
	resources := make([]map[string]interface{}, 0, len(types))
	for _, rt := range types {
		resources = append(resources, s.resourceCapability(rt))
	}

	cs := map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         time.Now().UTC().Format("2006-01-02"),
		"kind":         "instance",
		"fhirVersion":  "4.0.1",
		"format":       []string{"json"},
		"software": map[string]string{
			"name": "fhirstore",
		},
		"implementation": map[string]string{
			"url": baseURLFrom(c),
		},
		"rest": []map[string]interface{}{
			{
				"mode":     "server",
				"resource": resources,
			},
		},
	}
	return c.JSON(http.StatusOK, cs)
}

func (s *Server) resourceCapability(resourceType string) map[string]interface{} {
	params := s.reg.SearchParamsFor(resourceType)
	searchParams := make([]map[string]interface{}, 0, len(params))
	for _, p := range params {
		searchParams = append(searchParams, map[string]interface{}{
			"name": p.Code,
			"type": p.ParamType,
		})
	}
	sort.Slice(searchParams, func(i, j int) bool {
		return searchParams[i]["name"].(string) < searchParams[j]["name"].(string)
	})

	interactions := make([]map[string]string, 0, len(restInteractions))
	for _, code := range restInteractions {
		interactions = append(interactions, map[string]string{"code": code})
	}

	return map[string]interface{}{
		"type":          resourceType,
		"interaction":   interactions,
		"versioning":    "versioned",
		"searchParam":   searchParams,
	}
}

var restInteractions = []string{"read", "vread", "update", "delete", "create", "search-type", "history-instance", "history-type"}
