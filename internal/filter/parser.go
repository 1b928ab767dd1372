//file: internal/filter/parser.go

package filter

import (
	"errors"
	"strconv"
	"strings"
)

// Parse compiles a WHERE-clause shaped filter into an expression tree.
// Empty or blank input compiles to Empty().
func Parse(input string) (Expression, error) {
	if strings.TrimSpace(input) == "" {
		return Empty(), nil
	}

	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}

	p := &parser{input: input, tokens: tokens}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.typ != tokenEOF {
		return nil, p.errorAt(tok, "unexpected %s %q", tok.typ, tok.val)
	}
	return expr, nil
}

type parser struct {
	input  string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.typ != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(typ tokenType) (token, error) {
	t := p.advance()
	if t.typ != typ {
		return t, p.errorAt(t, "expected %s, got %s", typ, describe(t))
	}
	return t, nil
}

func (p *parser) errorAt(t token, msg string, args ...any) *ParseError {
	return newParseError(p.input, t.pos, msg, args...)
}

// combine builds a node and stamps construction errors with the current input
func (p *parser) combine(at token, op Operator, left, right Expression) (Expression, error) {
	node, err := NewLogical(op, left, right)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			return nil, p.errorAt(at, "%s", pe.Msg)
		}
		return nil, err
	}
	return node, nil
}

// expr = orExpr
func (p *parser) parseExpr() (Expression, error) {
	return p.parseOrExpr()
}

// orExpr = andExpr ("OR" andExpr)*
func (p *parser) parseOrExpr() (Expression, error) {
	left, err := p.parseAndExpr()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokenOr {
		at := p.advance()
		right, err := p.parseAndExpr()
		if err != nil {
			return nil, err
		}
		if left, err = p.combine(at, OpOr, left, right); err != nil {
			return nil, err
		}
	}
	return left, nil
}

// andExpr = predicate ("AND" predicate)*
func (p *parser) parseAndExpr() (Expression, error) {
	left, err := p.parsePredicate()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokenAnd {
		at := p.advance()
		right, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		if left, err = p.combine(at, OpAnd, left, right); err != nil {
			return nil, err
		}
	}
	return left, nil
}

// predicate = "(" expr ")" | column ["NOT"] "BETWEEN" literal "AND" literal | column op literal
func (p *parser) parsePredicate() (Expression, error) {
	if p.peek().typ == tokenLParen {
		p.advance()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		return expr, nil
	}

	colTok, err := p.expect(tokenIdent)
	if err != nil {
		return nil, p.errorAt(colTok, "expected column name, got %s", describe(colTok))
	}
	column := NewVariable(colTok.val)

	switch p.peek().typ {
	case tokenNot, tokenBetween:
		return p.parseBetween(column)
	}

	opTok := p.advance()
	op, ok := comparisonOps[opTok.typ]
	if !ok {
		return nil, p.errorAt(opTok, "expected comparison operator after %s, got %s", colTok.val, describe(opTok))
	}

	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return p.combine(opTok, op, column, lit)
}

var comparisonOps = map[tokenType]Operator{
	tokenEq:  OpEqual,
	tokenNeq: OpNotEqual,
	tokenLt:  OpLessThan,
	tokenLte: OpLessThanOrEqual,
	tokenGt:  OpGreaterThan,
	tokenGte: OpGreaterThanOrEqual,
}

// betweenExpr = column ["NOT"] "BETWEEN" literal "AND" literal
//
// col BETWEEN a AND b      -> (col >= a) AND (col <= b)
// col NOT BETWEEN a AND b  -> (col < a) OR (col > b)
func (p *parser) parseBetween(column *Variable) (Expression, error) {
	negated := false
	if p.peek().typ == tokenNot {
		p.advance()
		negated = true
	}
	at, err := p.expect(tokenBetween)
	if err != nil {
		return nil, err
	}

	low, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenAnd); err != nil {
		return nil, err
	}
	high, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}

	lowOp, highOp, joinOp := OpGreaterThanOrEqual, OpLessThanOrEqual, OpAnd
	if negated {
		lowOp, highOp, joinOp = OpLessThan, OpGreaterThan, OpOr
	}

	lower, err := p.combine(at, lowOp, column, low)
	if err != nil {
		return nil, err
	}
	upper, err := p.combine(at, highOp, column, high)
	if err != nil {
		return nil, err
	}
	return p.combine(at, joinOp, lower, upper)
}

// literal = STRING | NUMBER
func (p *parser) parseLiteral() (*Constant, error) {
	tok := p.advance()
	switch tok.typ {
	case tokenString:
		return NewConstant(String(tok.val)), nil
	case tokenNumber:
		v, err := parseNumber(tok.val)
		if err != nil {
			return nil, p.errorAt(tok, "%s", err.Error())
		}
		return NewConstant(v), nil
	default:
		return nil, p.errorAt(tok, "expected literal, got %s", describe(tok))
	}
}

// parseNumber keeps integral literals as Int. A '.' or exponent makes a Float.
func parseNumber(s string) (Value, error) {
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, errors.New("malformed number " + strconv.Quote(s))
		}
		return Float(f), nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return Value{}, errors.New("integer out of range " + strconv.Quote(s))
		}
		return Value{}, errors.New("malformed number " + strconv.Quote(s))
	}
	return Int(i), nil
}

func describe(t token) string {
	switch t.typ {
	case tokenEOF:
		return "end of input"
	case tokenIdent, tokenString, tokenNumber:
		return t.typ.String() + " " + strconv.Quote(t.val)
	}
	return strconv.Quote(t.val)
}
