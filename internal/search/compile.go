package search

import (
	"fmt"
	"strings"

	"github.com/ehr/fhirstore/internal/apperror"
	"github.com/ehr/fhirstore/internal/registry"
	"github.com/ehr/fhirstore/internal/sqlbuilder"
)

// prefixOperators maps a comparison prefix to its SQL operator for
// number/date/quantity columns. sa/eb ("starts after"/"ends before") and ap
// ("approximately") reuse the strict inequality operators; ap has no native
// SQL equivalent so it degrades to equality, matching the teacher's
// convention of treating unsupported fuzzy prefixes as exact matches
// rather than failing the query.
var prefixOperators = map[Prefix]string{
	PrefixEQ: "=", PrefixNE: "<>", PrefixGT: ">", PrefixLT: "<",
	PrefixGE: ">=", PrefixLE: "<=", PrefixSA: ">", PrefixEB: "<", PrefixAP: "=",
}

// CompiledWhere is one AND-ed WHERE fragment plus its positional arguments,
// numbered from $1 across the whole request.
type CompiledWhere struct {
	SQL  string
	Args []interface{}
}

// whereBuilder accumulates fragments and owns the running $n counter so
// every compiled param gets non-overlapping placeholders.
type whereBuilder struct {
	argN int
}

func (b *whereBuilder) next() int {
	b.argN++
	return b.argN
}

// CompileRequest renders the full WHERE clause (excluding "deleted = false",
// which the caller always prepends) for every parameter in req, resolved
// against reg.
func CompileRequest(reg *registry.Registry, req *SearchRequest) (CompiledWhere, error) {
	b := &whereBuilder{}
	var clauses []string
	var args []interface{}

	for _, p := range req.Params {
		clause, cArgs, err := compileParam(reg, b, req.ResourceType, p)
		if err != nil {
			return CompiledWhere{}, err
		}
		if clause == "" {
			continue
		}
		clauses = append(clauses, clause)
		args = append(args, cArgs...)
	}

	if len(clauses) == 0 {
		return CompiledWhere{SQL: "", Args: nil}, nil
	}
	return CompiledWhere{SQL: strings.Join(clauses, " AND "), Args: args}, nil
}

func compileParam(reg *registry.Registry, b *whereBuilder, resourceType string, p ParsedParam) (string, []interface{}, error) {
	switch p.Code {
	case "_id":
		return compileColumnValues(b, "id", "", p)
	case "_lastUpdated":
		return compileColumnValues(b, "lastUpdated", "date", p)
	}

	impl, ok := reg.SearchParamImpl(resourceType, p.Code)
	if !ok {
		return "", nil, apperror.Invalidf("unknown search parameter %q for %s", p.Code, resourceType)
	}

	if p.Modifier == "missing" {
		if len(p.Values) == 0 {
			return "", nil, apperror.Invalidf(":missing requires a true/false value")
		}
		col := columnFor(impl)
		if p.Values[0].Raw == "true" {
			return fmt.Sprintf(`%s IS NULL`, sqlbuilder.QuoteIdent(col)), nil, nil
		}
		return fmt.Sprintf(`%s IS NOT NULL`, sqlbuilder.QuoteIdent(col)), nil, nil
	}

	switch impl.Strategy {
	case registry.StrategyLookupIdentifier, registry.StrategyLookupHumanName,
		registry.StrategyLookupAddress, registry.StrategyLookupContactPoint:
		return compileLookup(b, impl, p)
	default:
		return compileColumn(b, impl, p)
	}
}

func columnFor(impl registry.SearchParameterImpl) string {
	return impl.ColumnName
}

// compileColumnValues handles the two reserved parameters that map directly
// onto a fixed main-table column rather than a registry-resolved one.
func compileColumnValues(b *whereBuilder, column, paramType string, p ParsedParam) (string, []interface{}, error) {
	var ors []string
	var args []interface{}
	for _, v := range p.Values {
		prefix, raw := splitPrefixForType(paramType, v.Raw)
		op := prefixOperators[prefix]
		if op == "" {
			op = "="
		}
		n := b.next()
		ors = append(ors, fmt.Sprintf(`%s %s $%d`, sqlbuilder.QuoteIdent(column), op, n))
		args = append(args, raw)
	}
	return orJoin(ors), args, nil
}

// compileColumn handles StrategyColumn/StrategyTokenColumn parameters,
// including the token system|code split and the string :exact/:contains
// modifiers.
func compileColumn(b *whereBuilder, impl registry.SearchParameterImpl, p ParsedParam) (string, []interface{}, error) {
	col := sqlbuilder.QuoteIdent(impl.ColumnName)
	var ors []string
	var args []interface{}

	for _, v := range p.Values {
		switch impl.ParamType {
		case "token":
			clause, vArgs := compileToken(b, impl, v.Raw)
			ors = append(ors, clause)
			args = append(args, vArgs...)
		case "reference":
			clause, vArgs := compileReference(b, impl, p.Modifier, v.Raw)
			ors = append(ors, clause)
			args = append(args, vArgs...)
		case "string":
			clause, vArgs := compileString(b, impl, p.Modifier, v.Raw)
			ors = append(ors, clause)
			args = append(args, vArgs...)
		default:
			prefix, raw := splitPrefixForType(impl.ParamType, v.Raw)
			op := prefixOperators[prefix]
			if op == "" {
				op = "="
			}
			n := b.next()
			if impl.Array {
				ors = append(ors, fmt.Sprintf(`$%d = ANY(%s)`, n, col))
			} else {
				ors = append(ors, fmt.Sprintf(`%s %s $%d`, col, op, n))
			}
			args = append(args, raw)
		}
	}
	return orJoin(ors), args, nil
}

// compileToken renders a token comparison. Array-typed token columns
// (TEXT[] of packed "system|code" strings) compare via ANY()/an unnest
// EXISTS instead of a direct scalar comparison.
func compileToken(b *whereBuilder, impl registry.SearchParameterImpl, raw string) (string, []interface{}) {
	col := sqlbuilder.QuoteIdent(impl.ColumnName)
	if !strings.Contains(raw, "|") {
		n := b.next()
		if impl.Array {
			return fmt.Sprintf(`$%d = ANY(%s)`, n, col), []interface{}{raw}
		}
		return fmt.Sprintf(`%s = $%d`, col, n), []interface{}{raw}
	}
	parts := strings.SplitN(raw, "|", 2)
	system, code := parts[0], parts[1]
	switch {
	case system == "":
		n := b.next()
		if impl.Array {
			return fmt.Sprintf(`EXISTS (SELECT 1 FROM unnest(%s) v WHERE v LIKE '%%|' || $%d)`, col, n), []interface{}{code}
		}
		return fmt.Sprintf(`%s LIKE '%%|' || $%d`, col, n), []interface{}{code}
	case code == "":
		n := b.next()
		if impl.Array {
			return fmt.Sprintf(`EXISTS (SELECT 1 FROM unnest(%s) v WHERE v LIKE $%d || '|%%')`, col, n), []interface{}{system}
		}
		return fmt.Sprintf(`%s LIKE $%d || '|%%'`, col, n), []interface{}{system}
	default:
		n := b.next()
		if impl.Array {
			return fmt.Sprintf(`$%d = ANY(%s)`, n, col), []interface{}{system + "|" + code}
		}
		return fmt.Sprintf(`%s = $%d`, col, n), []interface{}{system + "|" + code}
	}
}

func compileReference(b *whereBuilder, impl registry.SearchParameterImpl, modifier, raw string) (string, []interface{}) {
	col := sqlbuilder.QuoteIdent(impl.ColumnName)
	targetID := raw
	if i := strings.LastIndexByte(raw, '/'); i >= 0 {
		targetID = raw[i+1:]
	}
	n := b.next()
	return fmt.Sprintf(`%s = $%d`, col, n), []interface{}{targetID}
}

func compileString(b *whereBuilder, impl registry.SearchParameterImpl, modifier, raw string) (string, []interface{}) {
	col := sqlbuilder.QuoteIdent(impl.ColumnName)
	n := b.next()
	switch modifier {
	case "exact":
		return fmt.Sprintf(`%s = $%d`, col, n), []interface{}{raw}
	case "contains":
		return fmt.Sprintf(`%s ILIKE $%d`, col, n), []interface{}{"%" + raw + "%"}
	default:
		return fmt.Sprintf(`%s ILIKE $%d`, col, n), []interface{}{raw + "%"}
	}
}

// compileLookup renders an EXISTS subquery against the matching global
// lookup table. The schema's lookup tables key on resourceId alone (a
// globally unique UUID), so no resourceType discriminator is needed in the
// join condition. StrategyLookupIdentifier additionally honors a
// system|value split the way a plain token column does; the string-typed
// lookups (HumanName/Address/ContactPoint) honor the :exact/:contains
// modifiers the way a plain string column does.
func compileLookup(b *whereBuilder, impl registry.SearchParameterImpl, p ParsedParam) (string, []interface{}, error) {
	table := sqlbuilder.QuoteIdent(lookupTableFor(impl.Strategy))
	col := sqlbuilder.QuoteIdent(lookupColumnFor(impl.Strategy))

	var ors []string
	var args []interface{}
	for _, v := range p.Values {
		var inner string
		var innerArgs []interface{}
		if impl.Strategy == registry.StrategyLookupIdentifier {
			inner, innerArgs = lookupIdentifierPredicate(b, col, v.Raw)
		} else {
			inner, innerArgs = lookupStringPredicate(b, col, p.Modifier, v.Raw)
		}
		ors = append(ors, fmt.Sprintf(`EXISTS (SELECT 1 FROM %s l WHERE l."resourceId" = "id" AND %s)`, table, inner))
		args = append(args, innerArgs...)
	}
	return orJoin(ors), args, nil
}

func lookupIdentifierPredicate(b *whereBuilder, valueCol, raw string) (string, []interface{}) {
	if !strings.Contains(raw, "|") {
		n := b.next()
		return fmt.Sprintf(`l.%s = $%d`, valueCol, n), []interface{}{raw}
	}
	parts := strings.SplitN(raw, "|", 2)
	system, value := parts[0], parts[1]
	sysCol := sqlbuilder.QuoteIdent("system")
	switch {
	case system == "":
		n := b.next()
		return fmt.Sprintf(`l.%s = $%d`, valueCol, n), []interface{}{value}
	case value == "":
		n := b.next()
		return fmt.Sprintf(`l.%s = $%d`, sysCol, n), []interface{}{system}
	default:
		n1, n2 := b.next(), b.next()
		return fmt.Sprintf(`l.%s = $%d AND l.%s = $%d`, sysCol, n1, valueCol, n2), []interface{}{system, value}
	}
}

func lookupStringPredicate(b *whereBuilder, col, modifier, raw string) (string, []interface{}) {
	n := b.next()
	switch modifier {
	case "exact":
		return fmt.Sprintf(`l.%s = $%d`, col, n), []interface{}{raw}
	case "contains":
		return fmt.Sprintf(`l.%s ILIKE $%d`, col, n), []interface{}{"%" + raw + "%"}
	default:
		return fmt.Sprintf(`l.%s ILIKE $%d`, col, n), []interface{}{raw + "%"}
	}
}

func lookupTableFor(s registry.Strategy) string {
	switch s {
	case registry.StrategyLookupIdentifier:
		return "Global_Identifier"
	case registry.StrategyLookupHumanName:
		return "Global_HumanName"
	case registry.StrategyLookupAddress:
		return "Global_Address"
	case registry.StrategyLookupContactPoint:
		return "Global_ContactPoint"
	}
	return ""
}

func lookupColumnFor(s registry.Strategy) string {
	switch s {
	case registry.StrategyLookupIdentifier:
		return "value"
	case registry.StrategyLookupHumanName:
		return "text"
	case registry.StrategyLookupAddress:
		return "text"
	case registry.StrategyLookupContactPoint:
		return "value"
	}
	return ""
}

// splitPrefixForType only honors a comparison prefix for number/date/
// quantity typed parameters; for every other type a leading "eq"-shaped
// token is data, not an operator.
func splitPrefixForType(paramType, raw string) (Prefix, string) {
	switch paramType {
	case "number", "date", "quantity":
		return ExtractPrefix(raw)
	default:
		return PrefixNone, raw
	}
}

func orJoin(ors []string) string {
	if len(ors) == 0 {
		return ""
	}
	if len(ors) == 1 {
		return ors[0]
	}
	return "(" + strings.Join(ors, " OR ") + ")"
}

// ResolveSortColumn maps a _sort code to its column, honoring the
// strategy=column restriction and the _id/_lastUpdated aliases; unknown
// codes resolve to "".
func ResolveSortColumn(reg *registry.Registry, resourceType, code string) string {
	switch code {
	case "_id":
		return "id"
	case "_lastUpdated":
		return "lastUpdated"
	}
	impl, ok := reg.SearchParamImpl(resourceType, code)
	if !ok || (impl.Strategy != registry.StrategyColumn && impl.Strategy != registry.StrategyTokenColumn) {
		return ""
	}
	return impl.ColumnName
}
