//file: internal/filter/ast.go

package filter

import "fmt"

// Operator is the operation of a Logical node. Values follow the
// flag layout of the wire-level operator enum.
type Operator uint8

const (
	OpGreaterThan        Operator = 1
	OpGreaterThanOrEqual Operator = 2
	OpEqual              Operator = 4
	OpNotEqual           Operator = 8
	OpLessThanOrEqual    Operator = 16
	OpLessThan           Operator = 32
	OpAnd                Operator = 64
	OpOr                 Operator = 128
)

func (op Operator) String() string {
	switch op {
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpLessThanOrEqual:
		return "<="
	case OpLessThan:
		return "<"
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Valid reports whether op is one of the eight known operators
func (op Operator) Valid() bool {
	switch op {
	case OpGreaterThan, OpGreaterThanOrEqual, OpEqual, OpNotEqual,
		OpLessThanOrEqual, OpLessThan, OpAnd, OpOr:
		return true
	}
	return false
}

// IsComparison reports whether op compares two values rather than combining booleans
func (op Operator) IsComparison() bool {
	return op.Valid() && op != OpAnd && op != OpOr
}

// Expression is a node of a compiled filter. Trees are immutable and safe
// for concurrent evaluation.
type Expression interface {
	// Evaluate computes the node against vars without modifying it
	Evaluate(vars Context) (Value, error)
	String() string

	expression()
}

// Constant is a literal operand
type Constant struct {
	value Value
}

func NewConstant(v Value) *Constant { return &Constant{value: v} }

func (c *Constant) Value() Value   { return c.value }
func (c *Constant) String() string { return c.value.String() }

func (*Constant) expression() {}

// Variable is a context lookup by field name. Names are case-sensitive.
type Variable struct {
	name string
}

func NewVariable(name string) *Variable { return &Variable{name: name} }

func (v *Variable) Name() string   { return v.name }
func (v *Variable) String() string { return v.name }

func (*Variable) expression() {}

// Logical is a binary node. The zero Logical is the empty filter.
type Logical struct {
	op    Operator
	left  Expression
	right Expression
}

// Empty returns the filter that matches every context
func Empty() *Logical { return &Logical{} }

// NewLogical builds a binary node. Both operands and a known operator are
// required, so a partial node never reaches evaluation.
func NewLogical(op Operator, left, right Expression) (*Logical, error) {
	if !op.Valid() {
		return nil, &ParseError{Pos: -1, Msg: fmt.Sprintf("unknown operator %s", op)}
	}
	if isNil(left) || isNil(right) {
		return nil, &ParseError{Pos: -1, Msg: fmt.Sprintf("operator %s requires two operands", op)}
	}
	return &Logical{op: op, left: left, right: right}, nil
}

func (l *Logical) Op() Operator      { return l.op }
func (l *Logical) Left() Expression  { return l.left }
func (l *Logical) Right() Expression { return l.right }
func (l *Logical) IsEmpty() bool     { return l.op == 0 && l.left == nil && l.right == nil }

func (*Logical) expression() {}

func (l *Logical) String() string {
	if l.IsEmpty() {
		return "TRUE"
	}
	return "(" + l.left.String() + " " + l.op.String() + " " + l.right.String() + ")"
}

// Equal reports whether two trees have the same shape, operators and leaves
func Equal(a, b Expression) bool {
	if isNil(a) || isNil(b) {
		return isNil(a) && isNil(b)
	}
	switch x := a.(type) {
	case *Constant:
		y, ok := b.(*Constant)
		return ok && x.value.Equal(y.value)
	case *Variable:
		y, ok := b.(*Variable)
		return ok && x.name == y.name
	case *Logical:
		y, ok := b.(*Logical)
		if !ok {
			return false
		}
		if x.IsEmpty() || y.IsEmpty() {
			return x.IsEmpty() && y.IsEmpty()
		}
		return x.op == y.op && Equal(x.left, y.left) && Equal(x.right, y.right)
	}
	return false
}

func isNil(e Expression) bool {
	switch n := e.(type) {
	case nil:
		return true
	case *Constant:
		return n == nil
	case *Variable:
		return n == nil
	case *Logical:
		return n == nil
	}
	return false
}
