package search

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirstore/internal/registry"
)

// fixtureRegistry resolves each parameter exactly as the boot-time registry
// would: "identifier" deliberately decomposes into the global lookup table
// (its expression's last segment matches the Identifier heuristic), while
// "category" and "name" are given expressions that don't, so they exercise
// the plain token/string column paths instead.
func fixtureRegistry() *registry.Registry {
	reg := registry.New()
	reg.AddSearchParam(registry.SearchParam{Code: "status", Type: "token", Expression: "Patient.status", Base: []string{"Patient"}})
	reg.AddSearchParam(registry.SearchParam{Code: "category", Type: "token", Expression: "Patient.category", Base: []string{"Patient"}})
	reg.AddSearchParam(registry.SearchParam{Code: "birthdate", Type: "date", Expression: "Patient.birthDate", Base: []string{"Patient"}})
	reg.AddSearchParam(registry.SearchParam{Code: "identifier", Type: "token", Expression: "Patient.identifier", Base: []string{"Patient"}})
	reg.AddSearchParam(registry.SearchParam{Code: "name", Type: "string", Expression: "Patient.name.text", Base: []string{"Patient"}})
	reg.AddSearchParam(registry.SearchParam{Code: "subject", Type: "reference", Expression: "Observation.subject", Base: []string{"Observation"}, Target: []string{"Patient"}})
	reg.AddSearchParam(registry.SearchParam{Code: "tag", Type: "token", Expression: "Patient.meta.tag", Base: []string{"Patient"}, Array: true})
	reg.Seal()
	return reg
}

func TestCompileRequest_UnknownParamErrors(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"bogus": {"x"}})
	_, err := CompileRequest(reg, req)
	require.Error(t, err)
}

func TestCompileRequest_SimpleTokenColumn(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"status": {"active"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `"sp_status" = $1`)
	assert.Equal(t, []interface{}{"active"}, where.Args)
}

func TestCompileRequest_TokenSystemCodeSplit(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"category": {"http://example.org|vital-signs"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `"sp_category" = $1`)
	assert.Equal(t, []interface{}{"http://example.org|vital-signs"}, where.Args)
}

func TestCompileRequest_TokenCodeOnlySuffixMatch(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"category": {"|vital-signs"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `LIKE '%|' || $1`)
	assert.Equal(t, []interface{}{"vital-signs"}, where.Args)
}

func TestCompileRequest_LookupIdentifierRendersExistsAgainstGlobalTable(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"identifier": {"http://example.org|mrn-1"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `EXISTS (SELECT 1 FROM "Global_Identifier" l`)
	assert.Contains(t, where.SQL, `l."resourceId" = "id"`)
	assert.Contains(t, where.SQL, `l."system" = $1 AND l."value" = $2`)
	assert.Equal(t, []interface{}{"http://example.org", "mrn-1"}, where.Args)
}

func TestCompileRequest_LookupIdentifierValueOnly(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"identifier": {"mrn-1"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `l."value" = $1`)
	assert.Equal(t, []interface{}{"mrn-1"}, where.Args)
}

func TestCompileRequest_DatePrefixGreaterEqual(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"birthdate": {"ge2020-01-01"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `>= $1`)
	assert.Equal(t, []interface{}{"2020-01-01"}, where.Args)
}

func TestCompileRequest_StringDefaultPrefixMatch(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"name": {"Smith"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `ILIKE $1`)
	assert.Equal(t, []interface{}{"Smith%"}, where.Args)
}

func TestCompileRequest_StringExactModifier(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"name:exact": {"Smith"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `"sp_name" = $1`)
	assert.Equal(t, []interface{}{"Smith"}, where.Args)
}

func TestCompileRequest_StringContainsModifier(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"name:contains": {"mit"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"%mit%"}, where.Args)
}

func TestCompileRequest_MissingModifierTrue(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"name:missing": {"true"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `IS NULL`)
	assert.Empty(t, where.Args)
}

func TestCompileRequest_MissingModifierFalse(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"name:missing": {"false"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `IS NOT NULL`)
}

func TestCompileRequest_ReferenceStripsResourceTypePrefix(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Observation", url.Values{"subject": {"Patient/123"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"123"}, where.Args)
}

func TestCompileRequest_ArrayColumnUsesAny(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"tag": {"urn:x|abc"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `= ANY(`)
}

func TestCompileRequest_ReservedIDColumn(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"_id": {"abc"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, `"id" = $1`)
	assert.Equal(t, []interface{}{"abc"}, where.Args)
}

func TestCompileRequest_MultipleParamsNumberPlaceholdersSequentially(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"status": {"active"}, "name": {"Smith"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, "$1")
	assert.Contains(t, where.SQL, "$2")
	assert.Len(t, where.Args, 2)
}

func TestCompileRequest_OrDisjunctionWithinOneParam(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"status": {"active,draft"}})
	where, err := CompileRequest(reg, req)
	require.NoError(t, err)
	assert.Contains(t, where.SQL, " OR ")
	assert.Len(t, where.Args, 2)
}

func TestResolveSortColumn_ReservedAliases(t *testing.T) {
	reg := fixtureRegistry()
	assert.Equal(t, "id", ResolveSortColumn(reg, "Patient", "_id"))
	assert.Equal(t, "lastUpdated", ResolveSortColumn(reg, "Patient", "_lastUpdated"))
}

func TestResolveSortColumn_ColumnStrategy(t *testing.T) {
	reg := fixtureRegistry()
	assert.Equal(t, "sp_status", ResolveSortColumn(reg, "Patient", "status"))
}

func TestResolveSortColumn_UnknownCodeIsEmpty(t *testing.T) {
	reg := fixtureRegistry()
	assert.Equal(t, "", ResolveSortColumn(reg, "Patient", "bogus"))
}

func TestSplitPrefixForType_OnlyAppliesToComparableTypes(t *testing.T) {
	p, rest := splitPrefixForType("string", "equator")
	assert.Equal(t, PrefixNone, p)
	assert.Equal(t, "equator", rest)

	p, rest = splitPrefixForType("number", "eq5")
	assert.Equal(t, PrefixEQ, p)
	assert.Equal(t, "5", rest)
}
