package search

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_DefaultsCountAndTotal(t *testing.T) {
	req := Parse("Patient", url.Values{})
	assert.Equal(t, DefaultCount, req.Count)
	assert.Equal(t, "none", req.Total)
	assert.Equal(t, 0, req.Offset)
}

func TestParse_CountClampedToMax(t *testing.T) {
	req := Parse("Patient", url.Values{"_count": {"5000"}})
	assert.Equal(t, MaxCount, req.Count)
}

func TestParse_CountBelowOneFallsBackToDefault(t *testing.T) {
	req := Parse("Patient", url.Values{"_count": {"0"}})
	assert.Equal(t, DefaultCount, req.Count)
}

func TestParse_OffsetNeverNegative(t *testing.T) {
	req := Parse("Patient", url.Values{"_offset": {"-5"}})
	assert.Equal(t, 0, req.Offset)
}

func TestParse_ModifierSplit(t *testing.T) {
	req := Parse("Patient", url.Values{"name:exact": {"Smith"}})
	p := req.Params[0]
	assert.Equal(t, "name", p.Code)
	assert.Equal(t, "exact", p.Modifier)
	assert.Equal(t, "Smith", p.Values[0].Raw)
}

func TestParse_CommaIsOrDisjunction(t *testing.T) {
	req := Parse("Patient", url.Values{"status": {"active,draft"}})
	assert.Len(t, req.Params[0].Values, 2)
	assert.Equal(t, "active", req.Params[0].Values[0].Raw)
	assert.Equal(t, "draft", req.Params[0].Values[1].Raw)
}

func TestParse_EscapedCommaNotSplit(t *testing.T) {
	req := Parse("Patient", url.Values{"name": {`Smith\,Jones`}})
	assert.Len(t, req.Params[0].Values, 1)
	assert.Equal(t, "Smith,Jones", req.Params[0].Values[0].Raw)
}

func TestParse_PrefixNotStrippedAtParseTime(t *testing.T) {
	// "eq" looks like a comparison prefix but must survive untouched here;
	// only WHERE compilation decides whether to split it, once the
	// parameter's FHIR search type is known.
	req := Parse("Patient", url.Values{"name": {"equator"}})
	assert.Equal(t, "equator", req.Params[0].Values[0].Raw)
}

func TestParse_SortDescending(t *testing.T) {
	req := Parse("Patient", url.Values{"_sort": {"-birthdate,name"}})
	assert.Len(t, req.Sort, 2)
	assert.Equal(t, "birthdate", req.Sort[0].Code)
	assert.True(t, req.Sort[0].Descending)
	assert.Equal(t, "name", req.Sort[1].Code)
	assert.False(t, req.Sort[1].Descending)
}

func TestParse_TotalOnlyAcceptsKnownValues(t *testing.T) {
	req := Parse("Patient", url.Values{"_total": {"bogus"}})
	assert.Equal(t, "none", req.Total)

	req = Parse("Patient", url.Values{"_total": {"accurate"}})
	assert.Equal(t, "accurate", req.Total)
}

func TestParse_IncludeBasic(t *testing.T) {
	req := Parse("Observation", url.Values{"_include": {"Observation:subject:Patient"}})
	assert.Len(t, req.Include, 1)
	assert.Equal(t, "Observation", req.Include[0].SourceType)
	assert.Equal(t, "subject", req.Include[0].Param)
	assert.Equal(t, "Patient", req.Include[0].TargetType)
	assert.False(t, req.Include[0].Iterate)
}

func TestParse_IncludeIterate(t *testing.T) {
	req := Parse("Observation", url.Values{"_include": {"Observation:subject:iterate"}})
	assert.Len(t, req.Include, 1)
	assert.True(t, req.Include[0].Iterate)
	assert.Equal(t, "subject", req.Include[0].Param)
}

func TestParse_IncludeWildcard(t *testing.T) {
	req := Parse("Observation", url.Values{"_include": {"*"}})
	assert.Len(t, req.Include, 1)
	assert.True(t, req.Include[0].Wildcard)
}

func TestParse_RevIncludeGoesToItsOwnField(t *testing.T) {
	req := Parse("Patient", url.Values{"_revinclude": {"Observation:subject"}})
	assert.Len(t, req.RevInclude, 1)
	assert.Equal(t, "Observation", req.RevInclude[0].SourceType)
	assert.Equal(t, "subject", req.RevInclude[0].Param)
	assert.Empty(t, req.Include)
}

func TestParse_ElementsAndSummary(t *testing.T) {
	req := Parse("Patient", url.Values{"_elements": {"name,birthDate"}, "_summary": {"true"}})
	assert.Equal(t, []string{"name", "birthDate"}, req.Elements)
	assert.Equal(t, "true", req.Summary)
}

func TestExtractPrefix_KnownPrefix(t *testing.T) {
	p, rest := ExtractPrefix("ge2020-01-01")
	assert.Equal(t, PrefixGE, p)
	assert.Equal(t, "2020-01-01", rest)
}

func TestExtractPrefix_NoPrefix(t *testing.T) {
	p, rest := ExtractPrefix("2020-01-01")
	assert.Equal(t, PrefixNone, p)
	assert.Equal(t, "2020-01-01", rest)
}

func TestExtractPrefix_TooShortForPrefix(t *testing.T) {
	p, rest := ExtractPrefix("e")
	assert.Equal(t, PrefixNone, p)
	assert.Equal(t, "e", rest)
}
