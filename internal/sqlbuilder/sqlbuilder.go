// Package sqlbuilder renders the parameterized DML statements the
// repository issues against a resource's main/history tables. Table and
// column identifiers are double-quoted through QuoteIdent, and every value
// is passed positionally; no value is interpolated into SQL text.
package sqlbuilder

import (
	"fmt"
	"strings"
)

// Statement is a parameterized SQL statement ready for pgx's Exec/Query,
// paired with the positional arguments it expects.
type Statement struct {
	SQL  string
	Args []interface{}
}

func quoteIdent(name string) string {
	return QuoteIdent(name)
}

// QuoteIdent double-quotes a SQL identifier, escaping embedded quotes. The
// search package reuses this for the identifiers (table/column names) it
// interpolates into generated WHERE clauses.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Upsert renders an INSERT ... ON CONFLICT (id) DO UPDATE for table,
// preserving the column order of cols/vals (which must be parallel slices).
func Upsert(table string, cols []string, vals []interface{}) Statement {
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var sets []string
	for _, c := range cols {
		if c == "id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(c), quoteIdent(c)))
	}

	sql := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT ("id") DO UPDATE SET %s`,
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "),
	)
	return Statement{SQL: sql, Args: vals}
}

// Insert renders a plain INSERT with no conflict handling, used for
// history-table writes (a history row is never updated in place).
func Insert(table string, cols []string, vals []interface{}) Statement {
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return Statement{SQL: sql, Args: vals}
}

// SelectByID renders the read-latest-version query for a resource's main
// table.
func SelectByID(table, id string) Statement {
	sql := fmt.Sprintf(`SELECT "content", "deleted", "projectId" FROM %s WHERE "id" = $1`, quoteIdent(table))
	return Statement{SQL: sql, Args: []interface{}{id}}
}

// VersionSelect renders the direct history lookup for readVersion.
func VersionSelect(historyTable, id, versionID string) Statement {
	sql := fmt.Sprintf(`SELECT "content" FROM %s WHERE "id" = $1 AND "versionId" = $2`, quoteIdent(historyTable))
	return Statement{SQL: sql, Args: []interface{}{id, versionID}}
}

// HistoryOptions bounds a history query: Since is a lower-inclusive bound
// on lastUpdated, Cursor is an upper-exclusive bound for pagination, and
// Count is the row limit (0 means unlimited).
type HistoryOptions struct {
	Since  *string
	Cursor *string
	Count  int
}

// InstanceHistory renders the instance-level history query (a single
// resource id's full version history), newest first.
func InstanceHistory(historyTable, id string, opts HistoryOptions) Statement {
	var b strings.Builder
	args := []interface{}{id}
	fmt.Fprintf(&b, `SELECT "id", "versionId", "lastUpdated", "content" FROM %s WHERE "id" = $1`, quoteIdent(historyTable))
	appendHistoryBounds(&b, &args, opts)
	b.WriteString(` ORDER BY "lastUpdated" DESC`)
	if opts.Count > 0 {
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args)+1)
		args = append(args, opts.Count)
	}
	return Statement{SQL: b.String(), Args: args}
}

// TypeHistory renders the type-level history query (every resource of a
// type's version history), newest first.
func TypeHistory(historyTable string, opts HistoryOptions) Statement {
	var b strings.Builder
	var args []interface{}
	fmt.Fprintf(&b, `SELECT "id", "versionId", "lastUpdated", "content" FROM %s WHERE true`, quoteIdent(historyTable))
	appendHistoryBounds(&b, &args, opts)
	b.WriteString(` ORDER BY "lastUpdated" DESC`)
	if opts.Count > 0 {
		fmt.Fprintf(&b, ` LIMIT $%d`, len(args)+1)
		args = append(args, opts.Count)
	}
	return Statement{SQL: b.String(), Args: args}
}

func appendHistoryBounds(b *strings.Builder, args *[]interface{}, opts HistoryOptions) {
	if opts.Since != nil {
		*args = append(*args, *opts.Since)
		fmt.Fprintf(b, ` AND "lastUpdated" >= $%d`, len(*args))
	}
	if opts.Cursor != nil {
		*args = append(*args, *opts.Cursor)
		fmt.Fprintf(b, ` AND "lastUpdated" < $%d`, len(*args))
	}
}

// DeleteReferences renders the delete-all-outbound-references statement
// issued before reinserting a resource's current reference set.
func DeleteReferences(referencesTable, resourceID string) Statement {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE "resourceId" = $1`, quoteIdent(referencesTable))
	return Statement{SQL: sql, Args: []interface{}{resourceID}}
}

// InsertReference renders a single reference-row insert.
func InsertReference(referencesTable, resourceID, targetID, code string) Statement {
	sql := fmt.Sprintf(`INSERT INTO %s ("resourceId", "targetId", "code") VALUES ($1, $2, $3)`, quoteIdent(referencesTable))
	return Statement{SQL: sql, Args: []interface{}{resourceID, targetID, code}}
}
