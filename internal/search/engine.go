package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/fhirstore/internal/apperror"
	"github.com/ehr/fhirstore/internal/fhirmodel"
	dbplatform "github.com/ehr/fhirstore/internal/platform/db"
	"github.com/ehr/fhirstore/internal/registry"
	"github.com/ehr/fhirstore/internal/sqlbuilder"
)

// querier is the pgx surface the search engine needs; satisfied by both
// *pgxpool.Pool and pgx.Tx so a search can run inside or outside a caller's
// transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Engine executes compiled SearchRequests against PostgreSQL and assembles
// the resulting searchset Bundle.
type Engine struct {
	pool *pgxpool.Pool
	reg  *registry.Registry
}

func NewEngine(pool *pgxpool.Pool, reg *registry.Registry) *Engine {
	return &Engine{pool: pool, reg: reg}
}

// matchedResource is one row off the primary query, plus its row id for
// _include/_revinclude resolution.
type matchedResource struct {
	ID      string
	Content map[string]interface{}
}

// Execute runs req and returns a searchset Bundle whose self/next links are
// rooted at baseURL.
func (e *Engine) Execute(ctx context.Context, req *SearchRequest, baseURL string) (*fhirmodel.Bundle, error) {
	q := e.queryFor(ctx)

	where, err := CompileRequest(e.reg, req)
	if err != nil {
		return nil, err
	}

	sql, args := buildSelect(e.reg, req, where)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperror.Wrap(apperror.DatabaseError, "execute search", err)
	}
	matches, err := scanMatches(rows)
	if err != nil {
		return nil, err
	}

	total := 0
	switch req.Total {
	case "accurate":
		total, err = e.countTotal(ctx, req, where)
		if err != nil {
			return nil, err
		}
	case "estimate":
		total, err = e.estimateTotal(ctx, req, where)
		if err != nil {
			return nil, err
		}
	}

	resources := make([]map[string]interface{}, len(matches))
	for i, m := range matches {
		resources[i] = m.Content
	}
	resources, dropEntries := applyProjectionToResources(e.reg, resources, req)
	if dropEntries {
		resources = nil
	}

	included, err := e.resolveIncludes(ctx, req, matches)
	if err != nil {
		return nil, err
	}

	bundle := fhirmodel.NewSearchBundle(resources, fhirmodel.SearchBundleParams{
		BaseURL: baseURL, Count: req.Count, Offset: req.Offset, Total: total,
	})
	for _, inc := range included {
		raw, _ := marshalEntry(inc)
		bundle.Entry = append(bundle.Entry, fhirmodel.BundleEntry{
			Resource: raw,
			Search:   &fhirmodel.BundleSearch{Mode: "include"},
		})
	}
	return bundle, nil
}

// queryFor prefers an in-flight transaction carried on ctx (e.g. a search
// run from inside ProcessTransaction) over the pool, so a search sees
// writes made earlier in the same transaction.
func (e *Engine) queryFor(ctx context.Context) querier {
	if tx := dbplatform.TxFromContext(ctx); tx != nil {
		return tx
	}
	return e.pool
}

func buildSelect(reg *registry.Registry, req *SearchRequest, where CompiledWhere) (string, []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT "id","content","lastUpdated","deleted" FROM %s WHERE "deleted" = false`, sqlbuilder.QuoteIdent(req.ResourceType))

	args := append([]interface{}{}, where.Args...)
	if where.SQL != "" {
		b.WriteString(" AND ")
		b.WriteString(where.SQL)
	}

	b.WriteString(orderByClause(reg, req))

	limitN := len(args) + 1
	fmt.Fprintf(&b, ` LIMIT $%d`, limitN)
	args = append(args, req.Count)

	if req.Offset > 0 {
		offsetN := len(args) + 1
		fmt.Fprintf(&b, ` OFFSET $%d`, offsetN)
		args = append(args, req.Offset)
	}

	return b.String(), args
}

func orderByClause(reg *registry.Registry, req *SearchRequest) string {
	if len(req.Sort) == 0 {
		return ` ORDER BY "lastUpdated" DESC`
	}
	var terms []string
	for _, s := range req.Sort {
		col := ResolveSortColumn(reg, req.ResourceType, s.Code)
		if col == "" {
			continue
		}
		dir := "ASC"
		if s.Descending {
			dir = "DESC"
		}
		terms = append(terms, fmt.Sprintf(`%s %s`, sqlbuilder.QuoteIdent(col), dir))
	}
	if len(terms) == 0 {
		return ` ORDER BY "lastUpdated" DESC`
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

func scanMatches(rows pgx.Rows) ([]matchedResource, error) {
	defer rows.Close()
	var out []matchedResource
	for rows.Next() {
		var id string
		var content map[string]interface{}
		var lastUpdated interface{}
		var deleted bool
		if err := rows.Scan(&id, &content, &lastUpdated, &deleted); err != nil {
			return nil, apperror.Wrap(apperror.DatabaseError, "scan search row", err)
		}
		out = append(out, matchedResource{ID: id, Content: content})
	}
	return out, rows.Err()
}

func (e *Engine) countTotal(ctx context.Context, req *SearchRequest, where CompiledWhere) (int, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT COUNT(*) FROM %s WHERE "deleted" = false`, sqlbuilder.QuoteIdent(req.ResourceType))
	if where.SQL != "" {
		b.WriteString(" AND ")
		b.WriteString(where.SQL)
	}
	row := e.queryFor(ctx).QueryRow(ctx, b.String(), where.Args...)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, apperror.Wrap(apperror.DatabaseError, "count search total", err)
	}
	return count, nil
}

func marshalEntry(resource map[string]interface{}) ([]byte, error) {
	return fhirmodel.MarshalResource(resource)
}

// estimateTotal asks the planner for a fast approximate row count via
// EXPLAIN (FORMAT JSON) instead of an exact COUNT(*), falling back to
// countTotal whenever EXPLAIN fails or its output can't be parsed (e.g. a
// permission error, or a planner version whose JSON shape drifted).
func (e *Engine) estimateTotal(ctx context.Context, req *SearchRequest, where CompiledWhere) (int, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT "id" FROM %s WHERE "deleted" = false`, sqlbuilder.QuoteIdent(req.ResourceType))
	if where.SQL != "" {
		b.WriteString(" AND ")
		b.WriteString(where.SQL)
	}

	row := e.queryFor(ctx).QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+b.String(), where.Args...)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return e.countTotal(ctx, req, where)
	}

	var plans []struct {
		Plan struct {
			PlanRows float64 `json:"Plan Rows"`
		} `json:"Plan"`
	}
	if err := json.Unmarshal(raw, &plans); err != nil || len(plans) == 0 {
		return e.countTotal(ctx, req, where)
	}
	return int(plans[0].Plan.PlanRows), nil
}
