package rulelang

import (
	"fmt"
)

// Evaluate evaluates the AST node against ctx and reports whether it matches.
// Errors are always of type *EvalError. Evaluate does not modify node or ctx
// and is safe for concurrent use.
func Evaluate(node Node, ctx Context) (bool, error) {
	switch n := node.(type) {
	case Logical:
		return evalLogical(n, ctx)
	case Comparison:
		return evalComparison(n, ctx)
	case nil:
		return false, &EvalError{Kind: ErrMalformedNode, Detail: "nil node"}
	default:
		return false, &EvalError{Kind: ErrMalformedNode, Detail: fmt.Sprintf("unsupported node %T", node)}
	}
}

func evalLogical(expr Logical, ctx Context) (bool, error) {
	switch expr.Op {
	case OpAnd, OpOr:
	default:
		return false, &EvalError{Kind: ErrMalformedNode, Detail: fmt.Sprintf("unknown logical operator %q", expr.Op)}
	}

	left, err := Evaluate(expr.Left, ctx)
	if err != nil {
		return false, err
	}

	// Short-circuit: the right branch is never visited once the left decides.
	if expr.Op == OpAnd && !left {
		return false, nil
	}
	if expr.Op == OpOr && left {
		return true, nil
	}

	return Evaluate(expr.Right, ctx)
}

func evalComparison(expr Comparison, ctx Context) (bool, error) {
	if !expr.Value.IsValid() {
		return false, &EvalError{Field: expr.Field, Kind: ErrMalformedNode, Detail: "comparison has no literal"}
	}

	fieldValue, ok := ctx[expr.Field]
	if !ok {
		return false, &EvalError{Field: expr.Field, Kind: ErrUnknownField}
	}
	if !fieldValue.IsValid() {
		return false, &EvalError{Field: expr.Field, Kind: ErrTypeMismatch, Detail: "context value is invalid"}
	}

	switch expr.Op {
	case OpEq:
		return matchEqual(expr.Field, fieldValue, expr.Value)
	case OpNeq:
		eq, err := matchEqual(expr.Field, fieldValue, expr.Value)
		return !eq && err == nil, err
	case OpGt, OpLt, OpGte, OpLte:
		return matchOrdered(expr.Field, expr.Op, fieldValue, expr.Value)
	default:
		return false, &EvalError{Field: expr.Field, Kind: ErrMalformedNode, Detail: fmt.Sprintf("unknown operator %q", expr.Op)}
	}
}

// matchEqual compares by the literal's own type, coercing numeric strings
// to numbers when exactly one side is a number.
func matchEqual(field string, fieldValue, literal Value) (bool, error) {
	if fieldValue.Kind() == literal.Kind() {
		return fieldValue.Equal(literal), nil
	}

	if fieldValue.Kind() == KindBool || literal.Kind() == KindBool {
		return false, mismatch(field, fieldValue, literal)
	}

	// One side is a number, the other a string.
	a, aok := fieldValue.asNumber()
	b, bok := literal.asNumber()
	if !aok || !bok {
		return false, mismatch(field, fieldValue, literal)
	}
	return a == b, nil
}

// matchOrdered evaluates >, <, >= and <= over numeric-comparable operands.
func matchOrdered(field string, op CompareOp, fieldValue, literal Value) (bool, error) {
	if fieldValue.Kind() == KindBool || literal.Kind() == KindBool {
		return false, nonNumeric(field, fieldValue, literal)
	}

	a, aok := fieldValue.asNumber()
	b, bok := literal.asNumber()
	if !aok || !bok {
		// A number against an uncoercible string is a failed coercion; two
		// strings that are not both numeric have no ordering at all.
		if fieldValue.Kind() == KindNumber || literal.Kind() == KindNumber {
			return false, mismatch(field, fieldValue, literal)
		}
		return false, nonNumeric(field, fieldValue, literal)
	}

	switch op {
	case OpGt:
		return a > b, nil
	case OpLt:
		return a < b, nil
	case OpGte:
		return a >= b, nil
	default:
		return a <= b, nil
	}
}

func mismatch(field string, fieldValue, literal Value) *EvalError {
	return &EvalError{
		Field:  field,
		Kind:   ErrTypeMismatch,
		Detail: fmt.Sprintf("%s %s vs %s literal", fieldValue.Kind(), fieldValue, literal.Kind()),
	}
}

func nonNumeric(field string, fieldValue, literal Value) *EvalError {
	return &EvalError{
		Field:  field,
		Kind:   ErrNonNumeric,
		Detail: fmt.Sprintf("%s %s vs %s literal", fieldValue.Kind(), fieldValue, literal.Kind()),
	}
}
