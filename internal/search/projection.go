package search

import (
	"strings"

	"github.com/ehr/fhirstore/internal/registry"
)

// mandatoryElements survive every _elements/_summary filter: a client can
// always identify and re-fetch what it got back.
var mandatoryElements = map[string]bool{
	"resourceType": true,
	"id":           true,
	"meta":         true,
}

// ApplyElements filters resource down to the fields named in elements (a
// comma-separated _elements value) plus the mandatory identity fields.
func ApplyElements(resource map[string]interface{}, elements string) map[string]interface{} {
	if elements == "" {
		return resource
	}

	allowed := make(map[string]bool, len(mandatoryElements))
	for k := range mandatoryElements {
		allowed[k] = true
	}
	for _, f := range strings.Split(elements, ",") {
		if f = strings.TrimSpace(f); f != "" {
			allowed[f] = true
		}
	}
	return pickFields(resource, allowed)
}

// summaryFields returns the top-level field names _summary=true keeps for
// resourceType: every property path a registered SearchParameterImpl reads
// from, since those are exactly the elements the engine has already judged
// significant enough to index. Resource types with no registered search
// parameters fall back to mandatoryElements only.
func summaryFields(reg *registry.Registry, resourceType string) map[string]bool {
	allowed := make(map[string]bool, len(mandatoryElements))
	for k := range mandatoryElements {
		allowed[k] = true
	}
	for _, impl := range reg.SearchParamsFor(resourceType) {
		if top := topLevelField(impl.PropertyPath); top != "" {
			allowed[top] = true
		}
	}
	return allowed
}

// topLevelField returns the first path segment of a property path, e.g.
// "name.family" -> "name", "birthDate" -> "birthDate".
func topLevelField(path string) string {
	if path == "" {
		return ""
	}
	if idx := strings.IndexAny(path, ".["); idx >= 0 {
		return path[:idx]
	}
	return path
}

func pickFields(resource map[string]interface{}, allowed map[string]bool) map[string]interface{} {
	result := make(map[string]interface{}, len(allowed))
	for k, v := range resource {
		if allowed[k] {
			result[k] = v
		}
	}
	return result
}

// ApplySummary applies _summary filtering. Modes: "true" (registry-derived
// summary fields), "text" (narrative + identity fields only), "data"
// (everything but narrative text), "false"/"" (no filtering). "count" is
// handled by the caller, which omits entries entirely rather than trimming
// them.
func ApplySummary(reg *registry.Registry, resource map[string]interface{}, summaryMode string) map[string]interface{} {
	if summaryMode == "" || summaryMode == "false" {
		return resource
	}

	resourceType, _ := resource["resourceType"].(string)

	switch summaryMode {
	case "true":
		result := pickFields(resource, summaryFields(reg, resourceType))
		addSubsettedTag(result)
		return result
	case "text":
		allowed := map[string]bool{"text": true}
		for k := range mandatoryElements {
			allowed[k] = true
		}
		result := pickFields(resource, allowed)
		addSubsettedTag(result)
		return result
	case "data":
		result := make(map[string]interface{}, len(resource))
		for k, v := range resource {
			if k != "text" {
				result[k] = v
			}
		}
		return result
	default:
		return resource
	}
}

// ApplyProjection applies _elements (if present, taking precedence) or
// _summary to resource; a request with neither set returns resource as-is.
func ApplyProjection(reg *registry.Registry, resource map[string]interface{}, elements, summary string) map[string]interface{} {
	if elements != "" {
		return ApplyElements(resource, elements)
	}
	if summary != "" {
		return ApplySummary(reg, resource, summary)
	}
	return resource
}

func addSubsettedTag(resource map[string]interface{}) {
	meta, ok := resource["meta"].(map[string]interface{})
	if !ok {
		meta = make(map[string]interface{})
		resource["meta"] = meta
	}
	tags, _ := meta["tag"].([]interface{})
	tags = append(tags, map[string]interface{}{
		"system": "http://terminology.hl7.org/CodeSystem/v3-ObservationValue",
		"code":   "SUBSETTED",
	})
	meta["tag"] = tags
}

// applyProjectionToResources returns resources projected per req's
// _elements/_summary (a new slice; the input slice is not modified), and reports whether _summary=count requested that
// entries be dropped entirely rather than projected.
func applyProjectionToResources(reg *registry.Registry, resources []map[string]interface{}, req *SearchRequest) (out []map[string]interface{}, dropEntries bool) {
	elements := strings.Join(req.Elements, ",")
	if req.Summary == "count" {
		return nil, true
	}
	if elements == "" && req.Summary == "" {
		return resources, false
	}
	out = make([]map[string]interface{}, len(resources))
	for i, r := range resources {
		out[i] = ApplyProjection(reg, r, elements, req.Summary)
	}
	return out, false
}
