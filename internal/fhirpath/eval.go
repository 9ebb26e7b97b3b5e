package fhirpath

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Env carries the implicit variables an evaluation step needs: $this (the
// current focus), $index (position within a where/select iteration) and
// $total (the accumulator seeded for aggregate()-style expressions).
type Env struct {
	This  []TypedValue
	Index int
	Total []TypedValue
}

// Eval evaluates ast against input (the current FHIRPath collection,
// usually a single resource wrapped as one TypedValue) and returns the
// resulting collection.
func Eval(ast *Ast, input []TypedValue) ([]TypedValue, error) {
	return evalNode(ast, input, Env{This: input})
}

func evalNode(n *Ast, input []TypedValue, env Env) ([]TypedValue, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Tag {
	case TagLiteral:
		if coll, ok := n.Literal.Value.([]interface{}); ok && len(coll) == 0 {
			return nil, nil
		}
		return []TypedValue{*n.Literal}, nil

	case TagThis:
		return env.This, nil

	case TagTotal:
		return env.Total, nil

	case TagIndexVar:
		return []TypedValue{{Type: "Integer", Value: float64(env.Index)}}, nil

	case TagIdentifier:
		return navigateMember(input, n.Name), nil

	case TagPath:
		left, err := evalNode(n.Left, input, env)
		if err != nil {
			return nil, err
		}
		return evalNode(n.Right, left, Env{This: left})

	case TagIndex:
		left, err := evalNode(n.Left, input, env)
		if err != nil {
			return nil, err
		}
		idxColl, err := evalNode(n.Right, input, env)
		if err != nil {
			return nil, err
		}
		idx, ok := asInt(idxColl)
		if !ok || idx < 0 || idx >= len(left) {
			return nil, nil
		}
		return []TypedValue{left[idx]}, nil

	case TagUnary:
		right, err := evalNode(n.Right, input, env)
		if err != nil {
			return nil, err
		}
		if n.Op == "-" {
			for i, v := range right {
				if f, ok := toFloat(v); ok {
					right[i] = TypedValue{Type: v.Type, Value: -f}
				}
			}
		}
		return right, nil

	case TagBinary:
		return evalBinary(n, input, env)

	case TagInvoke:
		return evalInvoke(n, input, env)

	default:
		return nil, fmt.Errorf("fhirpath: unhandled node tag %d", n.Tag)
	}
}

// navigateMember resolves name against every item of input, flattening
// arrays and skipping items that don't carry the field, per FHIRPath's
// "path expressions navigate to absent if the member doesn't exist" rule.
func navigateMember(input []TypedValue, name string) []TypedValue {
	var out []TypedValue
	for _, item := range input {
		m, ok := item.Value.(map[string]interface{})
		if !ok {
			continue
		}
		raw, ok := m[name]
		if !ok {
			continue
		}
		out = append(out, flattenInto(raw)...)
	}
	return out
}

func flattenInto(raw interface{}) []TypedValue {
	switch v := raw.(type) {
	case []interface{}:
		var out []TypedValue
		for _, item := range v {
			out = append(out, flattenInto(item)...)
		}
		return out
	default:
		return []TypedValue{{Type: inferType(raw), Value: raw}}
	}
}

func inferType(v interface{}) string {
	switch v.(type) {
	case string:
		return "String"
	case bool:
		return "Boolean"
	case float64, int, int64:
		return "Decimal"
	case map[string]interface{}:
		return "Object"
	default:
		return "Any"
	}
}

func evalBinary(n *Ast, input []TypedValue, env Env) ([]TypedValue, error) {
	switch n.Op {
	case "and", "or", "xor", "implies":
		return evalBooleanOp(n, input, env)
	}

	left, err := evalNode(n.Left, input, env)
	if err != nil {
		return nil, err
	}
	right, err := evalNode(n.Right, input, env)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "=", "!=", "~", "!~":
		eq := valuesEqual(left, right)
		if n.Op == "!=" || n.Op == "!~" {
			eq = !eq
		}
		return boolColl(eq), nil
	case "<", ">", "<=", ">=":
		return evalComparison(n.Op, left, right)
	case "|":
		return append(append([]TypedValue{}, left...), right...), nil
	case "in":
		return boolColl(containsValue(right, left)), nil
	case "contains":
		return boolColl(containsValue(left, right)), nil
	case "+", "-", "*", "/", "div", "mod":
		return evalArithmetic(n.Op, left, right)
	case "&":
		return []TypedValue{{Type: "String", Value: collToString(left) + collToString(right)}}, nil
	case "is", "as":
		return left, nil
	default:
		return nil, fmt.Errorf("fhirpath: unsupported operator %q", n.Op)
	}
}

func evalBooleanOp(n *Ast, input []TypedValue, env Env) ([]TypedValue, error) {
	left, err := evalNode(n.Left, input, env)
	if err != nil {
		return nil, err
	}
	lb, lKnown := toBoolTri(left)

	switch n.Op {
	case "and":
		if lKnown && !lb {
			return boolColl(false), nil
		}
		right, err := evalNode(n.Right, input, env)
		if err != nil {
			return nil, err
		}
		rb, rKnown := toBoolTri(right)
		if rKnown && !rb {
			return boolColl(false), nil
		}
		if lKnown && rKnown {
			return boolColl(true), nil
		}
		return nil, nil
	case "or":
		if lKnown && lb {
			return boolColl(true), nil
		}
		right, err := evalNode(n.Right, input, env)
		if err != nil {
			return nil, err
		}
		rb, rKnown := toBoolTri(right)
		if rKnown && rb {
			return boolColl(true), nil
		}
		if lKnown && rKnown {
			return boolColl(false), nil
		}
		return nil, nil
	case "xor":
		right, err := evalNode(n.Right, input, env)
		if err != nil {
			return nil, err
		}
		rb, rKnown := toBoolTri(right)
		if !lKnown || !rKnown {
			return nil, nil
		}
		return boolColl(lb != rb), nil
	case "implies":
		if lKnown && !lb {
			return boolColl(true), nil
		}
		right, err := evalNode(n.Right, input, env)
		if err != nil {
			return nil, err
		}
		rb, rKnown := toBoolTri(right)
		if rKnown && rb {
			return boolColl(true), nil
		}
		if lKnown && rKnown {
			return boolColl(false), nil
		}
		return nil, nil
	}
	return nil, nil
}

func evalInvoke(n *Ast, input []TypedValue, env Env) ([]TypedValue, error) {
	var receiver []TypedValue
	var err error
	if n.Left != nil {
		receiver, err = evalNode(n.Left, input, env)
		if err != nil {
			return nil, err
		}
	} else {
		receiver = input
	}

	switch n.Name {
	case "exists":
		if len(n.Args) == 0 {
			return boolColl(len(receiver) > 0), nil
		}
		filtered, err := filterBy(receiver, n.Args[0])
		if err != nil {
			return nil, err
		}
		return boolColl(len(filtered) > 0), nil

	case "empty":
		return boolColl(len(receiver) == 0), nil

	case "count":
		return []TypedValue{{Type: "Integer", Value: float64(len(receiver))}}, nil

	case "where":
		if len(n.Args) != 1 {
			return nil, fmt.Errorf("fhirpath: where() takes exactly one argument")
		}
		return filterBy(receiver, n.Args[0])

	case "select":
		if len(n.Args) != 1 {
			return nil, fmt.Errorf("fhirpath: select() takes exactly one argument")
		}
		var out []TypedValue
		for i, item := range receiver {
			res, err := evalNode(n.Args[0], []TypedValue{item}, Env{This: []TypedValue{item}, Index: i, Total: env.Total})
			if err != nil {
				return nil, err
			}
			out = append(out, res...)
		}
		return out, nil

	case "first":
		if len(receiver) == 0 {
			return nil, nil
		}
		return receiver[:1], nil

	case "last":
		if len(receiver) == 0 {
			return nil, nil
		}
		return receiver[len(receiver)-1:], nil

	case "single":
		if len(receiver) != 1 {
			return nil, fmt.Errorf("fhirpath: single() expects exactly one item, got %d", len(receiver))
		}
		return receiver, nil

	case "not":
		b, known := toBoolTri(receiver)
		if !known {
			return nil, nil
		}
		return boolColl(!b), nil

	case "all":
		if len(n.Args) != 1 {
			return nil, fmt.Errorf("fhirpath: all() takes exactly one argument")
		}
		for i, item := range receiver {
			res, err := evalNode(n.Args[0], []TypedValue{item}, Env{This: []TypedValue{item}, Index: i})
			if err != nil {
				return nil, err
			}
			b, known := toBoolTri(res)
			if !known || !b {
				return boolColl(false), nil
			}
		}
		return boolColl(true), nil

	case "distinct":
		return distinctColl(receiver), nil

	case "skip":
		n2, _ := asInt(mustEval(n.Args, input, env, 0))
		if n2 < 0 || n2 > len(receiver) {
			n2 = len(receiver)
		}
		return receiver[n2:], nil

	case "take":
		n2, _ := asInt(mustEval(n.Args, input, env, 0))
		if n2 < 0 {
			n2 = 0
		}
		if n2 > len(receiver) {
			n2 = len(receiver)
		}
		return receiver[:n2], nil

	case "iif":
		if len(n.Args) < 2 {
			return nil, fmt.Errorf("fhirpath: iif() requires at least 2 arguments")
		}
		cond, err := evalNode(n.Args[0], input, env)
		if err != nil {
			return nil, err
		}
		b, known := toBoolTri(cond)
		if known && b {
			return evalNode(n.Args[1], input, env)
		}
		if len(n.Args) > 2 {
			return evalNode(n.Args[2], input, env)
		}
		return nil, nil

	case "trace":
		return receiver, nil

	case "toString":
		if len(receiver) == 0 {
			return nil, nil
		}
		return []TypedValue{{Type: "String", Value: collToString(receiver[:1])}}, nil

	case "toInteger", "toDecimal":
		if len(receiver) == 0 {
			return nil, nil
		}
		f, ok := toFloat(receiver[0])
		if !ok {
			return nil, nil
		}
		return []TypedValue{{Type: "Decimal", Value: f}}, nil

	case "startsWith", "endsWith", "contains", "matches", "lower", "upper", "length":
		return evalStringFunc(n.Name, receiver, n.Args, input, env)

	case "sort":
		sorted := append([]TypedValue{}, receiver...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return collToString(sorted[i:i+1]) < collToString(sorted[j:j+1])
		})
		return sorted, nil

	default:
		return nil, fmt.Errorf("fhirpath: unknown function %q", n.Name)
	}
}

func mustEval(args []*Ast, input []TypedValue, env Env, i int) []TypedValue {
	if i >= len(args) {
		return nil
	}
	res, err := evalNode(args[i], input, env)
	if err != nil {
		return nil
	}
	return res
}

func filterBy(receiver []TypedValue, cond *Ast) ([]TypedValue, error) {
	var out []TypedValue
	for i, item := range receiver {
		res, err := evalNode(cond, []TypedValue{item}, Env{This: []TypedValue{item}, Index: i})
		if err != nil {
			return nil, err
		}
		b, known := toBoolTri(res)
		if known && b {
			out = append(out, item)
		}
	}
	return out, nil
}

func evalStringFunc(name string, receiver []TypedValue, args []*Ast, input []TypedValue, env Env) ([]TypedValue, error) {
	if len(receiver) == 0 {
		return nil, nil
	}
	s, ok := receiver[0].Value.(string)
	if !ok {
		return nil, nil
	}
	switch name {
	case "lower":
		return []TypedValue{{Type: "String", Value: strings.ToLower(s)}}, nil
	case "upper":
		return []TypedValue{{Type: "String", Value: strings.ToUpper(s)}}, nil
	case "length":
		return []TypedValue{{Type: "Integer", Value: float64(len(s))}}, nil
	case "startsWith", "endsWith", "contains", "matches":
		if len(args) != 1 {
			return nil, fmt.Errorf("fhirpath: %s() takes exactly one argument", name)
		}
		argColl, err := evalNode(args[0], input, env)
		if err != nil {
			return nil, err
		}
		arg := collToString(argColl)
		switch name {
		case "startsWith":
			return boolColl(strings.HasPrefix(s, arg)), nil
		case "endsWith":
			return boolColl(strings.HasSuffix(s, arg)), nil
		case "contains":
			return boolColl(strings.Contains(s, arg)), nil
		case "matches":
			return boolColl(strings.Contains(s, arg)), nil
		}
	}
	return nil, nil
}

func distinctColl(in []TypedValue) []TypedValue {
	var out []TypedValue
	seen := map[string]bool{}
	for _, v := range in {
		key := fmt.Sprintf("%s:%v", v.Type, v.Value)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

func boolColl(b bool) []TypedValue {
	return []TypedValue{{Type: "Boolean", Value: b}}
}

// toBoolTri implements FHIRPath three-valued logic: returns (value, true)
// when the collection is a single known boolean, (false, false) when it's
// empty (unknown), matching how and/or/not propagate {} per spec.
func toBoolTri(coll []TypedValue) (bool, bool) {
	if len(coll) == 0 {
		return false, false
	}
	if b, ok := coll[0].Value.(bool); ok {
		return b, true
	}
	return len(coll) > 0, true
}

func asInt(coll []TypedValue) (int, bool) {
	if len(coll) == 0 {
		return 0, false
	}
	f, ok := toFloat(coll[0])
	if !ok {
		return 0, false
	}
	return int(f), true
}

func toFloat(v TypedValue) (float64, bool) {
	switch x := v.Value.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, true
	default:
		return 0, false
	}
}

func valuesEqual(a, b []TypedValue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if fmt.Sprintf("%v", a[i].Value) != fmt.Sprintf("%v", b[i].Value) {
			return false
		}
	}
	return true
}

func containsValue(haystack, needle []TypedValue) bool {
	if len(needle) == 0 {
		return false
	}
	for _, h := range haystack {
		if fmt.Sprintf("%v", h.Value) == fmt.Sprintf("%v", needle[0].Value) {
			return true
		}
	}
	return false
}

func evalComparison(op string, left, right []TypedValue) ([]TypedValue, error) {
	if len(left) == 0 || len(right) == 0 {
		return nil, nil
	}
	lf, lok := toFloat(left[0])
	rf, rok := toFloat(right[0])
	if lok && rok {
		switch op {
		case "<":
			return boolColl(lf < rf), nil
		case ">":
			return boolColl(lf > rf), nil
		case "<=":
			return boolColl(lf <= rf), nil
		case ">=":
			return boolColl(lf >= rf), nil
		}
	}
	ls, lsok := left[0].Value.(string)
	rs, rsok := right[0].Value.(string)
	if lsok && rsok {
		switch op {
		case "<":
			return boolColl(ls < rs), nil
		case ">":
			return boolColl(ls > rs), nil
		case "<=":
			return boolColl(ls <= rs), nil
		case ">=":
			return boolColl(ls >= rs), nil
		}
	}
	return nil, fmt.Errorf("fhirpath: cannot compare values with operator %s", op)
}

func evalArithmetic(op string, left, right []TypedValue) ([]TypedValue, error) {
	if len(left) == 0 || right == nil || len(right) == 0 {
		return nil, nil
	}
	if op == "+" {
		ls, lsok := left[0].Value.(string)
		rs, rsok := right[0].Value.(string)
		if lsok && rsok {
			return []TypedValue{{Type: "String", Value: ls + rs}}, nil
		}
	}
	lf, lok := toFloat(left[0])
	rf, rok := toFloat(right[0])
	if !lok || !rok {
		return nil, fmt.Errorf("fhirpath: operator %s requires numeric operands", op)
	}
	ld := decimal.NewFromFloat(lf)
	rd := decimal.NewFromFloat(rf)
	var result decimal.Decimal
	switch op {
	case "+":
		result = ld.Add(rd)
	case "-":
		result = ld.Sub(rd)
	case "*":
		result = ld.Mul(rd)
	case "/":
		if rd.IsZero() {
			return nil, nil
		}
		result = ld.Div(rd)
	case "div":
		if rd.IsZero() {
			return nil, nil
		}
		result = ld.Div(rd).Truncate(0)
	case "mod":
		if rd.IsZero() {
			return nil, nil
		}
		result = ld.Mod(rd)
	}
	f, _ := result.Float64()
	return []TypedValue{{Type: "Decimal", Value: f}}, nil
}

func collToString(coll []TypedValue) string {
	if len(coll) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", coll[0].Value)
}
