//file: internal/filter/errors.go

package filter

import "fmt"

// ParseError reports a filter that could not be compiled
type ParseError struct {
	Input    string // full filter text
	Pos      int    // byte offset of the offending fragment, -1 when unknown
	Fragment string // text at Pos
	Msg      string
}

func (e *ParseError) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("invalid filter %q: %s", e.Input, e.Msg)
	}
	if e.Fragment == "" {
		return fmt.Sprintf("invalid filter %q at position %d: %s", e.Input, e.Pos, e.Msg)
	}
	return fmt.Sprintf("invalid filter %q at position %d near %q: %s", e.Input, e.Pos, e.Fragment, e.Msg)
}

func newParseError(input string, pos int, msg string, args ...any) *ParseError {
	e := &ParseError{Input: input, Pos: pos, Msg: fmt.Sprintf(msg, args...)}
	if pos >= 0 && pos < len(input) {
		end := pos + 16
		if end > len(input) {
			end = len(input)
		}
		e.Fragment = input[pos:end]
	}
	return e
}

// EvaluationError reports a tree that cannot produce a result for a context,
// e.g. AND over non-boolean operands.
type EvaluationError struct {
	Expr string
	Msg  string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("failed to evaluate %s: %s", e.Expr, e.Msg)
}
