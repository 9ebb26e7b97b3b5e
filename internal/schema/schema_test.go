package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirstore/internal/registry"
)

func testRegistry() *registry.Registry {
	reg := registry.New()
	reg.AddProfile(registry.CanonicalProfile{Type: "Patient", Kind: "resource"})
	reg.AddSearchParam(registry.SearchParam{Code: "birthdate", Type: "date", Expression: "Patient.birthDate", Base: []string{"Patient"}})
	reg.AddSearchParam(registry.SearchParam{Code: "identifier", Type: "token", Expression: "Patient.identifier", Base: []string{"Patient"}})
	reg.AddSearchParam(registry.SearchParam{Code: "family", Type: "string", Expression: "Patient.name.family", Base: []string{"Patient"}})
	reg.Seal()
	return reg
}

func TestGenerate_MainTableHasFixedAndSearchColumns(t *testing.T) {
	def := Generate(testRegistry(), "v1")
	require.Len(t, def.TableSets, 1)
	main := def.TableSets[0].Main

	var names []string
	for _, c := range main.Columns {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "id")
	assert.Contains(t, names, "lastUpdated")
	assert.Contains(t, names, "sp_birthdate")
	assert.NotContains(t, names, "sp_identifier", "identifier resolves to a lookup table, not a column")
}

func TestGenerate_HistoryTableCompositePrimaryKey(t *testing.T) {
	def := Generate(testRegistry(), "v1")
	history := def.TableSets[0].History
	assert.Equal(t, []string{"id", "versionId"}, history.PrimaryKey)
}

func TestGenerate_ReferencesTableCompositePrimaryKey(t *testing.T) {
	def := Generate(testRegistry(), "v1")
	refs := def.TableSets[0].References
	assert.Equal(t, []string{"resourceId", "targetId", "code"}, refs.PrimaryKey)
}

func TestGenerate_FourGlobalLookupTables(t *testing.T) {
	def := Generate(testRegistry(), "v1")
	require.Len(t, def.GlobalLookupTables, 4)
	var names []string
	for _, t := range def.GlobalLookupTables {
		names = append(names, t.Name)
	}
	assert.ElementsMatch(t, []string{"Global_HumanName", "Global_Address", "Global_ContactPoint", "Global_Identifier"}, names)
}

func TestGenerate_StringColumnGetsTrigramIndex(t *testing.T) {
	def := Generate(testRegistry(), "v1")
	main := def.TableSets[0].Main
	found := false
	for _, idx := range main.Indexes {
		if idx.OpClass == "gin_trgm_ops" {
			found = true
		}
	}
	assert.True(t, found, "expected a trigram GIN index for the string search column")
}

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate(testRegistry(), "v1")
	b := Generate(testRegistry(), "v1")
	assert.Equal(t, RenderDDL(a), RenderDDL(b))
}

func TestRenderDDL_IdentifiersAreQuoted(t *testing.T) {
	def := Generate(testRegistry(), "v1")
	stmts := RenderDDL(def)
	require.NotEmpty(t, stmts)
	assert.Contains(t, stmts[0], `"Patient"`)
}
