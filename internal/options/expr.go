package options

import (
	"errors"
	"fmt"
	"reflect"
)

// Op is a visibility expression operator.
type Op string

// Supported operators.
const (
	OpEq     Op = "eq"
	OpNeq    Op = "neq"
	OpIn     Op = "in"
	OpTruthy Op = "truthy"
	OpAnd    Op = "and"
	OpOr     Op = "or"
	OpNot    Op = "not"
)

var (
	// ErrUnknownOp is returned by Validate for an operator it does not know.
	ErrUnknownOp = errors.New("options: unknown expression operator")

	// ErrMalformedExpr is returned by Validate for a structurally invalid node.
	ErrMalformedExpr = errors.New("options: malformed expression")
)

// Expr is a declarative predicate over a configuration map.
//
// Leaf nodes (eq, neq, in, truthy) read Field from the config; and/or/not
// combine Args. The tree encodes to JSON unchanged, so the module and the
// host evaluate the same predicate without shipping code.
type Expr struct {
	Op     Op      `json:"op"`
	Field  string  `json:"field,omitempty"`
	Value  any     `json:"value,omitempty"`
	Values []any   `json:"values,omitempty"`
	Args   []*Expr `json:"args,omitempty"`
}

// Equals matches when config[field] equals value.
func Equals(field string, value any) *Expr {
	return &Expr{Op: OpEq, Field: field, Value: value}
}

// NotEquals matches when config[field] differs from value.
func NotEquals(field string, value any) *Expr {
	return &Expr{Op: OpNeq, Field: field, Value: value}
}

// OneOf matches when config[field] equals any of values.
func OneOf(field string, values ...any) *Expr {
	return &Expr{Op: OpIn, Field: field, Values: values}
}

// Truthy matches when config[field] is set to a non-zero value.
func Truthy(field string) *Expr {
	return &Expr{Op: OpTruthy, Field: field}
}

// And matches when every argument matches. And() matches everything.
func And(args ...*Expr) *Expr {
	return &Expr{Op: OpAnd, Args: args}
}

// Or matches when any argument matches. Or() matches nothing.
func Or(args ...*Expr) *Expr {
	return &Expr{Op: OpOr, Args: args}
}

// Not inverts e.
func Not(e *Expr) *Expr {
	return &Expr{Op: OpNot, Args: []*Expr{e}}
}

// Evaluate reports whether cfg satisfies e. A nil expression is always
// satisfied. Unknown operators evaluate to true so a field is never hidden
// by a predicate this build does not understand.
func (e *Expr) Evaluate(cfg map[string]any) bool {
	if e == nil {
		return true
	}

	switch e.Op {
	case OpEq:
		return valuesEqual(cfg[e.Field], e.Value)
	case OpNeq:
		return !valuesEqual(cfg[e.Field], e.Value)
	case OpIn:
		v := cfg[e.Field]
		for _, candidate := range e.Values {
			if valuesEqual(v, candidate) {
				return true
			}
		}
		return false
	case OpTruthy:
		return truthy(cfg[e.Field])
	case OpAnd:
		for _, a := range e.Args {
			if !a.Evaluate(cfg) {
				return false
			}
		}
		return true
	case OpOr:
		for _, a := range e.Args {
			if a.Evaluate(cfg) {
				return true
			}
		}
		return false
	case OpNot:
		if len(e.Args) != 1 {
			return true
		}
		return !e.Args[0].Evaluate(cfg)
	default:
		return true
	}
}

// Predicate returns e as a plain function.
func (e *Expr) Predicate() func(map[string]any) bool {
	return e.Evaluate
}

// Validate checks the tree is well formed.
func (e *Expr) Validate() error {
	if e == nil {
		return nil
	}

	switch e.Op {
	case OpEq, OpNeq, OpIn, OpTruthy:
		if e.Field == "" {
			return fmt.Errorf("%w: %s requires a field", ErrMalformedExpr, e.Op)
		}
		if len(e.Args) > 0 {
			return fmt.Errorf("%w: %s takes no arguments", ErrMalformedExpr, e.Op)
		}
	case OpAnd, OpOr:
		for i, a := range e.Args {
			if a == nil {
				return fmt.Errorf("%w: %s argument %d is nil", ErrMalformedExpr, e.Op, i)
			}
			if err := a.Validate(); err != nil {
				return err
			}
		}
	case OpNot:
		if len(e.Args) != 1 || e.Args[0] == nil {
			return fmt.Errorf("%w: not takes exactly one argument", ErrMalformedExpr)
		}
		return e.Args[0].Validate()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, e.Op)
	}
	return nil
}

// valuesEqual compares config values, treating all numeric kinds as equal
// when they hold the same number. JSON decoding turns every number into
// float64 while module authors write int literals.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}
