package search

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSelect_DefaultsToNoWhereLimitOnly(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{})
	sql, args := buildSelect(reg, req, CompiledWhere{})
	assert.Contains(t, sql, `FROM "Patient" WHERE "deleted" = false`)
	assert.NotContains(t, sql, "AND")
	assert.Contains(t, sql, "LIMIT $1")
	assert.Equal(t, []interface{}{DefaultCount}, args)
}

func TestBuildSelect_AppendsCompiledWhere(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"status": {"active"}})
	where, err := CompileRequest(reg, req)
	assert.NoError(t, err)

	sql, args := buildSelect(reg, req, where)
	assert.Contains(t, sql, "AND")
	assert.Contains(t, sql, `"sp_status" = $1`)
	assert.Contains(t, sql, "LIMIT $2")
	assert.Equal(t, []interface{}{"active", DefaultCount}, args)
}

func TestBuildSelect_OffsetAddsAnotherPlaceholder(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"_offset": {"40"}})
	sql, args := buildSelect(reg, req, CompiledWhere{})
	assert.Contains(t, sql, "OFFSET $2")
	assert.Equal(t, []interface{}{DefaultCount, 40}, args)
}

func TestOrderByClause_DefaultsToLastUpdatedDesc(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{})
	assert.Equal(t, ` ORDER BY "lastUpdated" DESC`, orderByClause(reg, req))
}

func TestOrderByClause_HonorsSortDirection(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"_sort": {"-status"}})
	clause := orderByClause(reg, req)
	assert.Contains(t, clause, `"sp_status" DESC`)
}

func TestOrderByClause_UnresolvableSortCodeFallsBackToDefault(t *testing.T) {
	reg := fixtureRegistry()
	req := Parse("Patient", url.Values{"_sort": {"bogus"}})
	assert.Equal(t, ` ORDER BY "lastUpdated" DESC`, orderByClause(reg, req))
}
