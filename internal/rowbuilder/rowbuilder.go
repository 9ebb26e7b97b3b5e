// Package rowbuilder extracts the relational row data a resource's main,
// history, and references tables need from its JSON body, driven by the
// registry's resolved SearchParameterImpls.
package rowbuilder

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/fhirstore/internal/registry"
)

// MainRow is the column set written to a resource's main table.
type MainRow struct {
	ID           string
	VersionID    string
	LastUpdated  time.Time
	Deleted      bool
	Content      map[string]interface{}
	Compartments []string
	ProjectID    string
	SearchCols   map[string]interface{} // impl.ColumnName -> extracted value
}

// HistoryRow is the row appended to a resource's history table on every
// write, including a tombstone write on delete.
type HistoryRow struct {
	ID          string
	VersionID   string
	LastUpdated time.Time
	Content     map[string]interface{} // nil/empty on a tombstone
}

// ReferenceRow is one outbound reference recorded for a resource.
type ReferenceRow struct {
	ResourceID string
	TargetID   string
	Code       string
}

var choiceTypeSuffixes = []string{
	"Quantity", "String", "Boolean", "Integer", "Decimal", "DateTime",
	"Date", "Time", "Code", "Coding", "CodeableConcept", "Period",
	"Range", "Ratio", "Reference", "Identifier", "Money", "Uri",
}

// BuildRow extracts the MainRow for resource using impls, the search
// parameters registered for this resource type.
func BuildRow(resourceType string, resource map[string]interface{}, impls []registry.SearchParameterImpl) MainRow {
	row := MainRow{
		ID:         stringField(resource, "id"),
		SearchCols: make(map[string]interface{}),
	}

	if meta, ok := resource["meta"].(map[string]interface{}); ok {
		row.VersionID = stringField(meta, "versionId")
		if lu, ok := meta["lastUpdated"].(string); ok {
			if t, err := time.Parse(time.RFC3339, lu); err == nil {
				row.LastUpdated = t
			}
		}
	}

	for _, impl := range impls {
		if impl.Strategy != registry.StrategyColumn && impl.Strategy != registry.StrategyTokenColumn {
			continue
		}
		values := extractPath(resource, impl.PropertyPath)
		if len(values) == 0 {
			continue
		}
		if impl.Array {
			row.SearchCols[impl.ColumnName] = coerceAll(values, impl.ColumnType)
		} else {
			row.SearchCols[impl.ColumnName] = coerce(values[0], impl.ColumnType)
		}
	}

	return row
}

// BuildHistoryRow extracts the tombstone-or-live HistoryRow for resource.
// When resource is nil (a delete tombstone), content is left empty per the
// "append a tombstone history row carrying an empty content" contract.
func BuildHistoryRow(resourceID, versionID string, lastUpdated time.Time, resource map[string]interface{}) HistoryRow {
	return HistoryRow{ID: resourceID, VersionID: versionID, LastUpdated: lastUpdated, Content: resource}
}

// BuildReferences walks every reference-typed impl, extracts the reference
// strings it finds, parses each into a target id, and returns the
// deduplicated set of outbound references.
func BuildReferences(resourceID string, resource map[string]interface{}, impls []registry.SearchParameterImpl) []ReferenceRow {
	seen := make(map[string]bool)
	var out []ReferenceRow

	for _, impl := range impls {
		if impl.ParamType != "reference" {
			continue
		}
		for _, v := range extractPath(resource, impl.PropertyPath) {
			ref := referenceString(v)
			if ref == "" {
				continue
			}
			targetID, ok := parseReference(ref)
			if !ok {
				continue
			}
			key := targetID + "|" + impl.Code
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ReferenceRow{ResourceID: resourceID, TargetID: targetID, Code: impl.Code})
		}
	}
	return out
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// BuildCompartments determines the Patient-compartment UUIDs a resource
// belongs to. Patient resources are self-members; other resource types are
// scanned for a reference whose second-to-last path segment is "Patient".
// Binary resources never carry a compartment column.
func BuildCompartments(resourceType, resourceID string, resource map[string]interface{}, impls []registry.SearchParameterImpl) []string {
	if resourceType == "Binary" {
		return nil
	}
	if resourceType == "Patient" {
		if uuidPattern.MatchString(resourceID) {
			return []string{resourceID}
		}
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, impl := range impls {
		if impl.ParamType != "reference" {
			continue
		}
		for _, v := range extractPath(resource, impl.PropertyPath) {
			ref := referenceString(v)
			if ref == "" {
				continue
			}
			if !strings.HasPrefix(trimReference(ref), "Patient/") {
				continue
			}
			targetID, ok := parseReference(ref)
			if !ok || !uuidPattern.MatchString(targetID) {
				continue
			}
			if !seen[targetID] {
				seen[targetID] = true
				out = append(out, targetID)
			}
		}
	}
	return out
}

// extractPath walks obj's JSON tree following dot-separated path segments,
// expanding across array elements whenever more segments remain, and
// probing choice-type (value[x]) suffixes when a segment ends in "[x]".
func extractPath(obj map[string]interface{}, path string) []interface{} {
	if path == "" {
		return nil
	}
	segs := strings.Split(path, ".")
	return walk([]interface{}{obj}, segs)
}

func walk(current []interface{}, segs []string) []interface{} {
	if len(segs) == 0 {
		return current
	}
	seg := segs[0]
	rest := segs[1:]

	var next []interface{}
	for _, item := range current {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if strings.HasSuffix(seg, "[x]") {
			base := strings.TrimSuffix(seg, "[x]")
			for _, suffix := range choiceTypeSuffixes {
				if v, ok := m[base+suffix]; ok {
					next = append(next, expandArray(v)...)
					break
				}
			}
			continue
		}
		v, ok := m[seg]
		if !ok {
			continue
		}
		next = append(next, expandArray(v)...)
	}
	return walk(next, rest)
}

func expandArray(v interface{}) []interface{} {
	if arr, ok := v.([]interface{}); ok {
		return arr
	}
	return []interface{}{v}
}

func referenceString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case map[string]interface{}:
		if ref, ok := x["reference"].(string); ok {
			return ref
		}
	}
	return ""
}

// parseReference applies the extraction rule: skip fragment references
// (#...), skip urn: references, split on '/' and take the last segment.
func parseReference(ref string) (string, bool) {
	if strings.HasPrefix(ref, "#") {
		return "", false
	}
	if strings.HasPrefix(ref, "urn:") {
		return "", false
	}
	parts := strings.Split(ref, "/")
	if len(parts) == 0 {
		return "", false
	}
	return parts[len(parts)-1], true
}

// trimReference strips a leading absolute-URL prefix so relative-path
// prefix checks (e.g. "Patient/") work on both "Patient/123" and
// "http://example.org/fhir/Patient/123".
func trimReference(ref string) string {
	parts := strings.Split(ref, "/")
	if len(parts) < 2 {
		return ref
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1]
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func coerce(v interface{}, colType registry.ColumnType) interface{} {
	switch colType {
	case registry.ColumnBoolean:
		if b, ok := v.(bool); ok {
			return b
		}
		if s, ok := v.(string); ok {
			b, _ := strconv.ParseBool(s)
			return b
		}
		return false
	case registry.ColumnNumeric, registry.ColumnDouble:
		switch x := v.(type) {
		case float64:
			return x
		case string:
			f, _ := strconv.ParseFloat(x, 64)
			return f
		}
		return 0.0
	case registry.ColumnTimestamptz:
		if s, ok := v.(string); ok {
			return s
		}
		return nil
	default:
		return toText(v)
	}
}

func coerceAll(values []interface{}, colType registry.ColumnType) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = coerce(v, colType)
	}
	return out
}

func toText(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case map[string]interface{}:
		if ref, ok := x["reference"].(string); ok {
			return ref
		}
		if s, ok := x["text"].(string); ok {
			return s
		}
	}
	return ""
}
