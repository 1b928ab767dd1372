//file: internal/filter/eval.go

package filter

import (
	"fmt"
	"sync"
)

// Evaluate computes expr against vars. A nil expression behaves like Empty().
func Evaluate(expr Expression, vars Context) (Value, error) {
	if isNil(expr) {
		return Bool(true), nil
	}
	return expr.Evaluate(vars)
}

// Matches evaluates expr and requires a boolean result
func Matches(expr Expression, vars Context) (bool, error) {
	v, err := Evaluate(expr, vars)
	if err != nil {
		return false, err
	}
	if v.Kind() != KindBool {
		return false, &EvaluationError{Expr: expr.String(), Msg: fmt.Sprintf("result is %s, not bool", v.Kind())}
	}
	return v.Bool(), nil
}

func (c *Constant) Evaluate(Context) (Value, error) {
	return c.value, nil
}

// Evaluate resolves the variable; absent names are Null
func (v *Variable) Evaluate(vars Context) (Value, error) {
	return vars.Lookup(v.name), nil
}

// Evaluate combines both children. When both are themselves logical
// subtrees they are evaluated concurrently and joined before combining.
func (l *Logical) Evaluate(vars Context) (Value, error) {
	if l.IsEmpty() {
		return Bool(true), nil
	}

	left, right, err := l.evaluateChildren(vars)
	if err != nil {
		return Null(), err
	}

	// A missing operand never satisfies a comparison or a connective
	if left.IsNull() || right.IsNull() {
		return Bool(false), nil
	}

	switch l.op {
	case OpAnd, OpOr:
		if left.Kind() != KindBool || right.Kind() != KindBool {
			return Null(), &EvaluationError{
				Expr: l.String(),
				Msg:  fmt.Sprintf("%s needs bool operands, got %s and %s", l.op, left.Kind(), right.Kind()),
			}
		}
		if l.op == OpAnd {
			return Bool(left.Bool() && right.Bool()), nil
		}
		return Bool(left.Bool() || right.Bool()), nil
	}

	cmp, ok := Compare(left, right)
	if !ok {
		return Bool(false), nil
	}

	switch l.op {
	case OpEqual:
		return Bool(cmp == 0), nil
	case OpNotEqual:
		return Bool(cmp != 0), nil
	case OpGreaterThan:
		return Bool(cmp > 0), nil
	case OpGreaterThanOrEqual:
		return Bool(cmp >= 0), nil
	case OpLessThan:
		return Bool(cmp < 0), nil
	case OpLessThanOrEqual:
		return Bool(cmp <= 0), nil
	}
	return Null(), &EvaluationError{Expr: l.String(), Msg: fmt.Sprintf("unknown operator %s", l.op)}
}

func (l *Logical) evaluateChildren(vars Context) (Value, Value, error) {
	_, leftLogical := l.left.(*Logical)
	_, rightLogical := l.right.(*Logical)

	if !leftLogical || !rightLogical {
		left, err := l.left.Evaluate(vars)
		if err != nil {
			return Null(), Null(), err
		}
		right, err := l.right.Evaluate(vars)
		if err != nil {
			return Null(), Null(), err
		}
		return left, right, nil
	}

	var (
		wg       sync.WaitGroup
		right    Value
		rightErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		right, rightErr = l.right.Evaluate(vars)
	}()
	left, leftErr := l.left.Evaluate(vars)
	wg.Wait()

	if leftErr != nil {
		return Null(), Null(), leftErr
	}
	if rightErr != nil {
		return Null(), Null(), rightErr
	}
	return left, right, nil
}
