// Package search parses FHIR search query strings into a typed request,
// compiles that request into parameterized SQL against the registry's
// resolved search parameters, executes paginated retrieval plus
// _include/_revinclude fan-out, and assembles the result into a searchset
// Bundle.
package search

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// DefaultCount and MaxCount bound the _count parameter: unspecified
// defaults to DefaultCount, anything above MaxCount is clamped down to it.
const (
	DefaultCount = 20
	MaxCount     = 1000
)

// Prefix is a FHIRPath-style comparison prefix applying to numeric, date,
// and quantity search values.
type Prefix string

const (
	PrefixNone Prefix = ""
	PrefixEQ   Prefix = "eq"
	PrefixNE   Prefix = "ne"
	PrefixGT   Prefix = "gt"
	PrefixLT   Prefix = "lt"
	PrefixGE   Prefix = "ge"
	PrefixLE   Prefix = "le"
	PrefixSA   Prefix = "sa"
	PrefixEB   Prefix = "eb"
	PrefixAP   Prefix = "ap"
)

var knownPrefixes = map[string]Prefix{
	"eq": PrefixEQ, "ne": PrefixNE, "gt": PrefixGT, "lt": PrefixLT,
	"ge": PrefixGE, "le": PrefixLE, "sa": PrefixSA, "eb": PrefixEB, "ap": PrefixAP,
}

// ParamValue is one atomic search value as written in the query string.
// Its comparison prefix (applicable only to number/date/quantity typed
// parameters) is split off during WHERE compilation, once the parameter's
// FHIR search type is known from the registry — splitting it here would
// misfire on string values that happen to start with a prefix token (e.g.
// "equator").
type ParamValue struct {
	Raw string
}

// ParsedParam is one search parameter key's parsed form: repeated keys
// across the query string form an AND conjunction of ParsedParams, while
// Values within one ParsedParam form an OR disjunction (a comma-separated
// value list).
type ParsedParam struct {
	Code     string
	Modifier string
	Values   []ParamValue
}

// IncludeSpec is a parsed _include or _revinclude directive.
type IncludeSpec struct {
	SourceType string
	Param      string
	TargetType string
	Iterate    bool
	Wildcard   bool
}

// SortSpec is one _sort term.
type SortSpec struct {
	Code       string
	Descending bool
}

// SearchRequest is the typed form of a search query string.
type SearchRequest struct {
	ResourceType string
	Params       []ParsedParam
	Sort         []SortSpec
	Count        int
	Offset       int
	Total        string // "none" | "estimate" | "accurate"
	Include      []IncludeSpec
	RevInclude   []IncludeSpec
	Elements     []string
	Summary      string
}

// Parse parses a query string's url.Values into a SearchRequest for
// resourceType. Reserved parameters (_id, _lastUpdated, _count, _offset,
// _sort, _total, _include, _revinclude, _elements, _summary) are handled
// specially; everything else becomes a ParsedParam resolved later by the
// registry during WHERE compilation.
func Parse(resourceType string, values url.Values) *SearchRequest {
	req := &SearchRequest{
		ResourceType: resourceType,
		Count:        DefaultCount,
		Total:        "none",
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		code, modifier := splitModifier(key)
		vals := values[key]

		switch code {
		case "_count":
			req.Count = clampCount(parseIntOr(firstOf(vals), DefaultCount))
		case "_offset":
			req.Offset = maxInt(0, parseIntOr(firstOf(vals), 0))
		case "_sort":
			req.Sort = parseSort(vals)
		case "_total":
			if t := firstOf(vals); t == "none" || t == "estimate" || t == "accurate" {
				req.Total = t
			}
		case "_include":
			req.Include = append(req.Include, parseIncludes(resourceType, vals)...)
		case "_revinclude":
			req.RevInclude = append(req.RevInclude, parseIncludes(resourceType, vals)...)
		case "_elements":
			req.Elements = splitCommaAll(vals)
		case "_summary":
			req.Summary = firstOf(vals)
		case "_id":
			req.Params = append(req.Params, ParsedParam{Code: "_id", Modifier: modifier, Values: parseValues(vals)})
		case "_lastUpdated":
			req.Params = append(req.Params, ParsedParam{Code: "_lastUpdated", Modifier: modifier, Values: parseValues(vals)})
		default:
			req.Params = append(req.Params, ParsedParam{Code: code, Modifier: modifier, Values: parseValues(vals)})
		}
	}

	return req
}

// splitModifier splits "code:modifier" into its parts; modifier is "" when
// absent.
func splitModifier(key string) (code, modifier string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// parseValues flattens a query parameter's repeated-key values, each of
// which may itself hold a comma-separated OR list, into ParamValues; any
// comparison prefix is left in Raw.
func parseValues(vals []string) []ParamValue {
	var out []ParamValue
	for _, raw := range vals {
		for _, v := range splitUnescapedComma(raw) {
			out = append(out, ParamValue{Raw: v})
		}
	}
	return out
}

// splitUnescapedComma splits on commas not preceded by a backslash escape,
// since FHIR search values may contain a literal comma as "\,".
func splitUnescapedComma(s string) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	parts = append(parts, cur.String())
	return parts
}

// ExtractPrefix splits a leading comparison prefix off v. It is only
// meaningful for number/date/quantity typed parameters; callers must check
// the parameter's FHIR search type before relying on the split.
func ExtractPrefix(v string) (Prefix, string) {
	if len(v) >= 2 {
		if p, ok := knownPrefixes[v[:2]]; ok {
			return p, v[2:]
		}
	}
	return PrefixNone, v
}

func parseSort(vals []string) []SortSpec {
	var specs []SortSpec
	for _, raw := range vals {
		for _, term := range strings.Split(raw, ",") {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			desc := strings.HasPrefix(term, "-")
			code := strings.TrimPrefix(term, "-")
			specs = append(specs, SortSpec{Code: code, Descending: desc})
		}
	}
	return specs
}

func parseIncludes(resourceType string, vals []string) []IncludeSpec {
	var specs []IncludeSpec
	for _, raw := range vals {
		if raw == "*" {
			specs = append(specs, IncludeSpec{SourceType: resourceType, Wildcard: true})
			continue
		}
		iterate := false
		spec := raw
		if strings.HasSuffix(spec, ":iterate") {
			iterate = true
			spec = strings.TrimSuffix(spec, ":iterate")
		}
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) < 2 {
			continue
		}
		is := IncludeSpec{SourceType: parts[0], Param: parts[1], Iterate: iterate}
		if len(parts) == 3 {
			is.TargetType = parts[2]
		}
		specs = append(specs, is)
	}
	return specs
}

func splitCommaAll(vals []string) []string {
	var out []string
	for _, raw := range vals {
		for _, v := range strings.Split(raw, ",") {
			if v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func firstOf(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func parseIntOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func clampCount(n int) int {
	if n < 1 {
		return DefaultCount
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
