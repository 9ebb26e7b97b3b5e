// Package schema derives a relational schema from the registry's resolved
// profiles and search parameters and renders it to deterministic DDL:
// identical input registries always produce byte-identical output.
package schema

import (
	"sort"
	"strings"

	"github.com/ehr/fhirstore/internal/registry"
)

// IndexKind is the PostgreSQL index access method a rendered index uses.
type IndexKind string

const (
	IndexBTree IndexKind = "btree"
	IndexGIN   IndexKind = "gin"
	IndexGiST  IndexKind = "gist"
)

// Column describes one column of a generated table.
type Column struct {
	Name          string
	Type          string
	NotNull       bool
	Default       string
	Documentation string // back-link to the FHIRPath expression it was derived from
}

// Index describes one generated index.
type Index struct {
	Name       string
	Table      string
	Columns    []string
	Kind       IndexKind
	Unique     bool
	Where      string // partial index predicate, empty when unconditional
	Include    []string
	OpClass    string
	Expression string // functional index expression, overrides Columns when set
}

// Table is a single generated table: its columns, indexes, and primary key.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	Indexes    []Index
}

// ResourceTableSet is the three tables generated for one resource type.
type ResourceTableSet struct {
	ResourceType string
	Main         Table
	History      Table
	References   Table
}

// SchemaDefinition is the complete generated schema: one ResourceTableSet
// per table-backed resource type plus the four global lookup tables shared
// across all resource types.
type SchemaDefinition struct {
	Version            string
	TableSets          []ResourceTableSet
	GlobalLookupTables []Table
}

// fixedMainColumns are present on every resource type's main table,
// regardless of which search parameters apply to that type.
var fixedMainColumns = []Column{
	{Name: "id", Type: "UUID", NotNull: true, Documentation: "Resource.id"},
	{Name: "versionId", Type: "TEXT", NotNull: true, Documentation: "Resource.meta.versionId"},
	{Name: "lastUpdated", Type: "TIMESTAMPTZ", NotNull: true, Documentation: "Resource.meta.lastUpdated"},
	{Name: "deleted", Type: "BOOLEAN", NotNull: true, Default: "false", Documentation: "soft-delete tombstone flag"},
	{Name: "content", Type: "JSONB", NotNull: false, Documentation: "the resource body, empty on a tombstone"},
	{Name: "compartments", Type: "UUID[]", NotNull: false, Documentation: "Patient compartment membership"},
	{Name: "projectId", Type: "TEXT", NotNull: false, Documentation: "tenant/project scoping column"},
}

var fixedHistoryColumns = []Column{
	{Name: "id", Type: "UUID", NotNull: true},
	{Name: "versionId", Type: "TEXT", NotNull: true},
	{Name: "lastUpdated", Type: "TIMESTAMPTZ", NotNull: true},
	{Name: "content", Type: "JSONB", NotNull: false},
}

var referencesColumns = []Column{
	{Name: "resourceId", Type: "UUID", NotNull: true},
	{Name: "targetId", Type: "UUID", NotNull: true},
	{Name: "code", Type: "TEXT", NotNull: true},
}

// globalLookupSpecs enumerates the four global decomposition tables and
// their non-fixed columns; resourceId/index are common to all four.
var globalLookupSpecs = []struct {
	name string
	cols []Column
}{
	{"HumanName", []Column{
		{Name: "use", Type: "TEXT"},
		{Name: "family", Type: "TEXT"},
		{Name: "given", Type: "TEXT"},
		{Name: "text", Type: "TEXT"},
	}},
	{"Address", []Column{
		{Name: "use", Type: "TEXT"},
		{Name: "city", Type: "TEXT"},
		{Name: "state", Type: "TEXT"},
		{Name: "postalCode", Type: "TEXT"},
		{Name: "country", Type: "TEXT"},
		{Name: "text", Type: "TEXT"},
	}},
	{"ContactPoint", []Column{
		{Name: "system", Type: "TEXT"},
		{Name: "use", Type: "TEXT"},
		{Name: "value", Type: "TEXT"},
	}},
	{"Identifier", []Column{
		{Name: "system", Type: "TEXT"},
		{Name: "value", Type: "TEXT"},
	}},
}

// Generate derives a full SchemaDefinition from reg. Resource types are
// processed in reg.TableResourceTypes() order (already sorted), and each
// type's search parameters are processed in SearchParamsFor's sorted
// order, so Generate is deterministic.
func Generate(reg *registry.Registry, version string) SchemaDefinition {
	def := SchemaDefinition{Version: version}

	for _, rt := range reg.TableResourceTypes() {
		def.TableSets = append(def.TableSets, buildTableSet(reg, rt))
	}

	for _, spec := range globalLookupSpecs {
		def.GlobalLookupTables = append(def.GlobalLookupTables, buildLookupTable(spec.name, spec.cols))
	}

	return def
}

func buildTableSet(reg *registry.Registry, resourceType string) ResourceTableSet {
	main := Table{
		Name:       resourceType,
		Columns:    append([]Column{}, fixedMainColumns...),
		PrimaryKey: []string{"id"},
	}

	for _, impl := range reg.SearchParamsFor(resourceType) {
		if impl.Strategy != registry.StrategyColumn && impl.Strategy != registry.StrategyTokenColumn {
			continue
		}
		colType := string(impl.ColumnType)
		if impl.Array {
			colType += "[]"
		}
		main.Columns = append(main.Columns, Column{
			Name:          impl.ColumnName,
			Type:          colType,
			NotNull:       false,
			Documentation: impl.Expression,
		})
	}

	main.Indexes = append(main.Indexes,
		Index{Name: idxName(resourceType, "lastUpdated"), Table: resourceType, Columns: []string{"lastUpdated"}, Kind: IndexBTree},
		Index{Name: idxName(resourceType, "id_live"), Table: resourceType, Columns: []string{"id"}, Kind: IndexBTree, Where: `"deleted" = false`},
		Index{Name: idxName(resourceType, "compartments"), Table: resourceType, Columns: []string{"compartments"}, Kind: IndexGIN},
	)

	for _, impl := range reg.SearchParamsFor(resourceType) {
		if impl.Strategy != registry.StrategyColumn && impl.Strategy != registry.StrategyTokenColumn {
			continue
		}
		kind := IndexBTree
		if impl.Array {
			kind = IndexGIN
		}
		main.Indexes = append(main.Indexes, Index{
			Name:    idxName(resourceType, impl.ColumnName),
			Table:   resourceType,
			Columns: []string{impl.ColumnName},
			Kind:    kind,
		})
		if impl.ParamType == "string" {
			main.Indexes = append(main.Indexes, Index{
				Name:    idxName(resourceType, impl.ColumnName, "trgm"),
				Table:   resourceType,
				Columns: []string{impl.ColumnName},
				Kind:    IndexGIN,
				OpClass: "gin_trgm_ops",
			})
		}
	}

	history := Table{
		Name:       resourceType + "_History",
		Columns:    append([]Column{}, fixedHistoryColumns...),
		PrimaryKey: []string{"id", "versionId"},
		Indexes: []Index{
			{Name: idxName(resourceType+"_History", "lastUpdated"), Table: resourceType + "_History", Columns: []string{"lastUpdated"}, Kind: IndexBTree},
		},
	}

	references := Table{
		Name:       resourceType + "_References",
		Columns:    append([]Column{}, referencesColumns...),
		PrimaryKey: []string{"resourceId", "targetId", "code"},
		Indexes: []Index{
			{Name: idxName(resourceType+"_References", "targetId"), Table: resourceType + "_References", Columns: []string{"targetId"}, Kind: IndexBTree},
			{Name: idxName(resourceType+"_References", "code"), Table: resourceType + "_References", Columns: []string{"code"}, Kind: IndexBTree},
		},
	}

	return ResourceTableSet{ResourceType: resourceType, Main: main, History: history, References: references}
}

func buildLookupTable(name string, extra []Column) Table {
	cols := []Column{
		{Name: "resourceId", Type: "UUID", NotNull: true},
		{Name: "index", Type: "INTEGER", NotNull: true, Documentation: "position within the repeating element"},
	}
	cols = append(cols, extra...)

	t := Table{
		Name:       "Global_" + name,
		Columns:    cols,
		PrimaryKey: []string{"resourceId", "index"},
	}
	t.Indexes = append(t.Indexes, Index{
		Name:    idxName("Global_"+name, "resourceId"),
		Table:   "Global_" + name,
		Columns: []string{"resourceId"},
		Kind:    IndexBTree,
	})
	return t
}

func idxName(parts ...string) string {
	lowered := make([]string, len(parts))
	for i, p := range parts {
		lowered[i] = strings.ToLower(p)
	}
	return "idx_" + strings.Join(lowered, "_")
}

// sortedTableNames is exposed for tests asserting deterministic ordering.
func sortedTableNames(def SchemaDefinition) []string {
	names := make([]string, 0, len(def.TableSets))
	for _, ts := range def.TableSets {
		names = append(names, ts.Main.Name)
	}
	sort.Strings(names)
	return names
}
