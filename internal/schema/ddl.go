package schema

import (
	"fmt"
	"strings"
)

// RenderDDL renders def to an ordered list of DDL statements: one CREATE
// TABLE per table (resource main/history/references tables, then the four
// global lookup tables), followed by that table's CREATE INDEX statements.
// Every identifier is double-quoted; no value from def ever reaches the
// output except identifiers already validated at registry-load time, so no
// resource content or search-parameter user input is interpolated here.
func RenderDDL(def SchemaDefinition) []string {
	var stmts []string
	for _, ts := range def.TableSets {
		stmts = append(stmts, renderTable(ts.Main)...)
		stmts = append(stmts, renderTable(ts.History)...)
		stmts = append(stmts, renderTable(ts.References)...)
	}
	for _, t := range def.GlobalLookupTables {
		stmts = append(stmts, renderTable(t)...)
	}
	return stmts
}

func renderTable(t Table) []string {
	var stmts []string
	stmts = append(stmts, renderCreateTable(t))
	for _, idx := range t.Indexes {
		stmts = append(stmts, renderCreateIndex(idx))
	}
	return stmts
}

func renderCreateTable(t Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quoteIdent(t.Name))

	lines := make([]string, 0, len(t.Columns)+1)
	for _, col := range t.Columns {
		lines = append(lines, "    "+renderColumn(col))
	}
	if len(t.PrimaryKey) > 0 {
		lines = append(lines, "    PRIMARY KEY ("+quoteIdentList(t.PrimaryKey)+")")
	}
	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n)")
	return b.String()
}

func renderColumn(c Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", quoteIdent(c.Name), c.Type)
	if c.NotNull {
		b.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		fmt.Fprintf(&b, " DEFAULT %s", c.Default)
	}
	return b.String()
}

func renderCreateIndex(idx Index) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if idx.Unique {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, "INDEX IF NOT EXISTS %s ON %s", quoteIdent(idx.Name), quoteIdent(idx.Table))
	if idx.Kind != "" && idx.Kind != IndexBTree {
		fmt.Fprintf(&b, " USING %s", idx.Kind)
	}

	target := idx.Expression
	if target == "" {
		cols := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			if idx.OpClass != "" {
				cols[i] = fmt.Sprintf("%s %s", quoteIdent(c), idx.OpClass)
			} else {
				cols[i] = quoteIdent(c)
			}
		}
		target = strings.Join(cols, ", ")
	}
	fmt.Fprintf(&b, " (%s)", target)

	if len(idx.Include) > 0 {
		fmt.Fprintf(&b, " INCLUDE (%s)", quoteIdentList(idx.Include))
	}
	if idx.Where != "" {
		fmt.Fprintf(&b, " WHERE %s", idx.Where)
	}
	return b.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
