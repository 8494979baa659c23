package layout

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
)

// BoolEvaluator evaluates an expression predicate against a row.
type BoolEvaluator interface {
	EvalBool(src string, row Row) (bool, error)
}

// ErrNoEvaluator is returned when an expression predicate is met without an
// evaluator to run it.
var ErrNoEvaluator = errors.New("expression predicate without evaluator")

// Visible reports whether the node's visibility predicate holds for row.
// Nodes without a predicate are visible.
func Visible(n Node, row Row, ev BoolEvaluator) (bool, error) {
	return n.Base().Visible.Eval(row, ev)
}

// Enabled reports whether the node's enablement predicate holds for row.
func Enabled(n Node, row Row, ev BoolEvaluator) (bool, error) {
	return n.Base().Enabled.Eval(row, ev)
}

// Eval evaluates the predicate. A nil predicate is true. Constraint maps hold
// when every key matches: a list value accepts any of its members, any other
// value must equal the row value.
func (p *Predicate) Eval(row Row, ev BoolEvaluator) (bool, error) {
	if p == nil {
		return true, nil
	}
	if p.Expression != "" {
		if ev == nil {
			return false, ErrNoEvaluator
		}
		ok, err := ev.EvalBool(p.Expression, row)
		if err != nil {
			return false, errors.Wrapf(err, "predicate %q", p.Expression)
		}
		return ok, nil
	}
	for key, want := range p.Constraints {
		got := row[key]
		if accepted, isList := want.([]any); isList {
			if !containsValue(accepted, got) {
				return false, nil
			}
			continue
		}
		if !valueEquals(got, want) {
			return false, nil
		}
	}
	return true, nil
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if valueEquals(v, item) {
			return true
		}
	}
	return false
}

// valueEquals compares two decoded JSON scalars, treating numbers and their
// string spellings as equal ("2" == 2).
func valueEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return scalarKey(a) == scalarKey(b)
}

func scalarKey(v any) string {
	switch x := v.(type) {
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
