//file: internal/filter/tree.go

package filter

// Node is a serializable view of an expression tree
type Node struct {
	Type     string `json:"type" yaml:"type"` // logical, variable, constant or empty
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Kind     string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
	Left     *Node  `json:"left,omitempty" yaml:"left,omitempty"`
	Right    *Node  `json:"right,omitempty" yaml:"right,omitempty"`
}

// Tree converts expr into nodes. A nil or empty expression becomes a single
// "empty" node.
func Tree(expr Expression) *Node {
	switch e := expr.(type) {
	case *Constant:
		return &Node{Type: "constant", Kind: e.value.Kind().String(), Value: e.value.Interface()}
	case *Variable:
		return &Node{Type: "variable", Name: e.name}
	case *Logical:
		if e == nil || e.IsEmpty() {
			return &Node{Type: "empty"}
		}
		return &Node{
			Type:     "logical",
			Operator: e.op.String(),
			Left:     Tree(e.left),
			Right:    Tree(e.right),
		}
	}
	return &Node{Type: "empty"}
}
