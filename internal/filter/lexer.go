//file: internal/filter/lexer.go

package filter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenAnd
	tokenOr
	tokenNot
	tokenBetween
	tokenEq
	tokenNeq
	tokenLt
	tokenLte
	tokenGt
	tokenGte
	tokenLParen
	tokenRParen
)

var tokenNames = map[tokenType]string{
	tokenEOF:     "end of input",
	tokenIdent:   "identifier",
	tokenString:  "string",
	tokenNumber:  "number",
	tokenAnd:     "AND",
	tokenOr:      "OR",
	tokenNot:     "NOT",
	tokenBetween: "BETWEEN",
	tokenEq:      "=",
	tokenNeq:     "!=",
	tokenLt:      "<",
	tokenLte:     "<=",
	tokenGt:      ">",
	tokenGte:     ">=",
	tokenLParen:  "(",
	tokenRParen:  ")",
}

func (t tokenType) String() string { return tokenNames[t] }

var keywords = map[string]tokenType{
	"AND":     tokenAnd,
	"OR":      tokenOr,
	"NOT":     tokenNot,
	"BETWEEN": tokenBetween,
}

type token struct {
	typ tokenType
	val string
	pos int
}

type lexer struct {
	input  string
	pos    int
	tokens []token
}

func lex(input string) ([]token, error) {
	l := &lexer{input: input}
	if err := l.run(); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

func (l *lexer) emit(typ tokenType, val string, start int) {
	l.tokens = append(l.tokens, token{typ: typ, val: val, pos: start})
}

func (l *lexer) next() byte {
	if l.pos+1 < len(l.input) {
		return l.input[l.pos+1]
	}
	return 0
}

func (l *lexer) run() error {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		start := l.pos

		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			l.pos++

		case ch == '\'':
			tok, err := l.readString()
			if err != nil {
				return err
			}
			l.tokens = append(l.tokens, tok)

		case ch == '(':
			l.emit(tokenLParen, "(", start)
			l.pos++

		case ch == ')':
			l.emit(tokenRParen, ")", start)
			l.pos++

		case ch == '=':
			l.emit(tokenEq, "=", start)
			l.pos++

		case ch == '!' && l.next() == '=':
			l.emit(tokenNeq, "!=", start)
			l.pos += 2

		case ch == '<':
			switch l.next() {
			case '=':
				l.emit(tokenLte, "<=", start)
				l.pos += 2
			case '>':
				l.emit(tokenNeq, "<>", start)
				l.pos += 2
			default:
				l.emit(tokenLt, "<", start)
				l.pos++
			}

		case ch == '>':
			if l.next() == '=' {
				l.emit(tokenGte, ">=", start)
				l.pos += 2
			} else {
				l.emit(tokenGt, ">", start)
				l.pos++
			}

		case isDigit(ch) || ((ch == '-' || ch == '+' || ch == '.') && (isDigit(l.next()) || l.next() == '.')):
			l.tokens = append(l.tokens, l.readNumber())

		case isIdentStart(ch):
			tok := l.readIdent()
			if tok.val == "" {
				r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
				return newParseError(l.input, l.pos, "unexpected character %q", r)
			}
			if kw, ok := keywords[strings.ToUpper(tok.val)]; ok {
				tok.typ = kw
			}
			l.tokens = append(l.tokens, tok)

		default:
			r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
			return newParseError(l.input, l.pos, "unexpected character %q", r)
		}
	}
	l.emit(tokenEOF, "", len(l.input))
	return nil
}

// readString reads a single-quoted literal; '' inside is an escaped quote
func (l *lexer) readString() (token, error) {
	start := l.pos
	l.pos++ // skip opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\'' {
			if l.next() == '\'' {
				b.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return token{typ: tokenString, val: b.String(), pos: start}, nil
		}
		b.WriteByte(ch)
		l.pos++
	}
	return token{}, newParseError(l.input, start, "unterminated string literal")
}

// readNumber reads [sign] digits [. digits] [e [sign] digits]. Validation of
// the literal is left to the parser so it can report range errors.
func (l *lexer) readNumber() token {
	start := l.pos
	if ch := l.input[l.pos]; ch == '-' || ch == '+' {
		l.pos++
	}
	for l.pos < len(l.input) && (isDigit(l.input[l.pos]) || l.input[l.pos] == '.') {
		l.pos++
	}
	if l.pos < len(l.input) && (l.input[l.pos] == 'e' || l.input[l.pos] == 'E') {
		l.pos++
		if l.pos < len(l.input) && (l.input[l.pos] == '-' || l.input[l.pos] == '+') {
			l.pos++
		}
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	return token{typ: tokenNumber, val: l.input[start:l.pos], pos: start}
}

func (l *lexer) readIdent() token {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !isIdentPart(r) {
			break
		}
		l.pos += size
	}
	return token{typ: tokenIdent, val: l.input[start:l.pos], pos: start}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= utf8.RuneSelf
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}
