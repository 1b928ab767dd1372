//file: internal/filter/eval_test.go

package filter

import (
	"errors"
	"sync"
	"testing"
)

func TestMatches(t *testing.T) {
	vars := ContextOf(map[string]any{
		"Topic":  "orders",
		"Amount": 150,
		"Price":  9.5,
		"Region": "EU",
		"Name":   "O'Brien",
		"Flag":   true,
	})

	tests := []struct {
		name   string
		filter string
		want   bool
	}{
		{"int equal", `Amount = 150`, true},
		{"int not equal", `Amount != 150`, false},
		{"int greater", `Amount > 100`, true},
		{"int greater or equal boundary", `Amount >= 150`, true},
		{"int less", `Amount < 100`, false},
		{"int less or equal boundary", `Amount <= 150`, true},
		{"float compare", `Price < 10.0`, true},
		{"string equal", `Region = 'EU'`, true},
		{"string compare is case sensitive", `Region = 'eu'`, false},
		{"string ordering", `Region > 'AA'`, true},
		{"escaped quote", `Name = 'O''Brien'`, true},
		{"and both true", `Topic = 'orders' and Amount > 100`, true},
		{"and one false", `Topic = 'orders' and Amount > 200`, false},
		{"or one true", `Region = 'US' or Amount > 100`, true},
		{"or both false", `Region = 'US' or Amount > 200`, false},
		{"between inclusive low", `Amount between 150 and 200`, true},
		{"between inclusive high", `Amount between 100 and 150`, true},
		{"between outside", `Amount between 151 and 200`, false},
		{"not between outside", `Amount not between 151 and 200`, true},
		{"not between inside", `Amount not between 100 and 200`, false},
		{"empty filter", ``, true},

		// Missing fields never satisfy a comparison
		{"missing equal", `Missing = 1`, false},
		{"missing not equal", `Missing != 1`, false},
		{"missing greater", `Missing > 1`, false},
		{"missing less", `Missing < 1`, false},
		{"missing inside or", `Missing = 1 or Amount = 150`, true},
		{"missing inside and", `Missing = 1 and Amount = 150`, false},
		{"missing not between", `Missing not between 1 and 2`, false},

		// Mixed kinds are unordered, so every operator is false
		{"string vs int equal", `Region = 1`, false},
		{"string vs int not equal", `Region != 1`, false},
		{"int vs float equal", `Amount = 150.0`, false},
		{"int vs float greater", `Amount > 1.5`, false},
		{"int vs string", `Amount = '150'`, false},
		{"bool vs int", `Flag = 1`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := Parse(tt.filter)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.filter, err)
			}
			got, err := Matches(expr, vars)
			if err != nil {
				t.Fatalf("Matches(%q) error = %v", tt.filter, err)
			}
			if got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestEvaluateLeaves(t *testing.T) {
	vars := Context{"a": Int(1)}

	v, err := Evaluate(NewConstant(String("x")), vars)
	if err != nil || !v.Equal(String("x")) {
		t.Errorf("constant evaluated to %v, %v", v, err)
	}

	v, err = Evaluate(NewVariable("a"), vars)
	if err != nil || !v.Equal(Int(1)) {
		t.Errorf("variable evaluated to %v, %v", v, err)
	}

	v, err = Evaluate(NewVariable("missing"), vars)
	if err != nil || !v.IsNull() {
		t.Errorf("missing variable evaluated to %v, %v; want NULL", v, err)
	}

	v, err = Evaluate(nil, vars)
	if err != nil || !v.Equal(Bool(true)) {
		t.Errorf("nil expression evaluated to %v, %v; want TRUE", v, err)
	}
}

func TestEvaluationErrors(t *testing.T) {
	vars := Context{"a": Int(1), "b": Bool(true)}

	// AND over a comparison operand and a raw variable
	andNonBool, err := NewLogical(OpAnd, NewVariable("a"), NewConstant(Int(1)))
	if err != nil {
		t.Fatalf("NewLogical() error = %v", err)
	}

	tests := []struct {
		name string
		expr Expression
	}{
		{"and over ints", andNonBool},
		{"non-bool root", NewVariable("a")},
		{"string root", NewConstant(String("x"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Matches(tt.expr, vars)
			var ee *EvaluationError
			if !errors.As(err, &ee) {
				t.Fatalf("Matches() error = %v, want *EvaluationError", err)
			}
		})
	}

	// A bool context value is a valid root
	if ok, err := Matches(NewVariable("b"), vars); err != nil || !ok {
		t.Errorf("Matches(bool variable) = %v, %v; want true", ok, err)
	}
}

func TestEvaluateDoesNotMutateContext(t *testing.T) {
	vars := ContextOf(map[string]any{"A": 1, "B": "x"})
	expr, err := Parse(`(A = 1 or Missing = 2) and (B = 'x' or C > 3)`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if _, err := Matches(expr, vars); err != nil {
		t.Fatalf("Matches() error = %v", err)
	}
	if len(vars) != 2 {
		t.Errorf("context has %d entries after evaluation, want 2", len(vars))
	}
}

func TestConcurrentEvaluation(t *testing.T) {
	expr, err := Parse(`(A > 10 and B = 'x') or (A between 1 and 5 and C != 0)`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	contexts := []struct {
		vars Context
		want bool
	}{
		{ContextOf(map[string]any{"A": 11, "B": "x"}), true},
		{ContextOf(map[string]any{"A": 3, "C": 1}), true},
		{ContextOf(map[string]any{"A": 3, "C": 0}), false},
		{ContextOf(map[string]any{"B": "x"}), false},
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, c := range contexts {
			wg.Add(1)
			go func(vars Context, want bool) {
				defer wg.Done()
				got, err := Matches(expr, vars)
				if err != nil {
					t.Errorf("Matches() error = %v", err)
					return
				}
				if got != want {
					t.Errorf("Matches(%v) = %v, want %v", vars, got, want)
				}
			}(c.vars, c.want)
		}
	}
	wg.Wait()
}
