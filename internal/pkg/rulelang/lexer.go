package rulelang

import (
	"strings"
	"unicode/utf8"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenString
	TokenNumber
	TokenBool
	TokenCompare // =, !=, >, <, >=, <=
	TokenAnd
	TokenOr
	TokenLParen
	TokenRParen
	TokenIllegal
)

var tokenNames = [...]string{
	TokenEOF:     "end of input",
	TokenIdent:   "identifier",
	TokenString:  "string",
	TokenNumber:  "number",
	TokenBool:    "boolean",
	TokenCompare: "comparison operator",
	TokenAnd:     "AND",
	TokenOr:      "OR",
	TokenLParen:  "'('",
	TokenRParen:  "')'",
	TokenIllegal: "illegal token",
}

func (t TokenType) String() string {
	if t >= 0 && int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return "unknown"
}

// Token represents a lexical token.
// Pos is the byte offset of the token's first character in the input.
type Token struct {
	Type  TokenType
	Value string
	Pos   int

	// reason is set on TokenIllegal and explains what the lexer rejected.
	reason string
}

const (
	reasonUnexpectedChar  = "unexpected character"
	reasonUnknownOperator = "unknown operator"
	reasonUnterminated    = "unterminated string literal"
	reasonInvalidLiteral  = "invalid literal"
)

// Lexer tokenizes rule input.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, pos: 0}
}

// NextToken returns the next token from the input.
// Once the input is exhausted it keeps returning TokenEOF.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: len(l.input)}
	}

	ch := l.input[l.pos]

	switch ch {
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Value: "(", Pos: l.pos - 1}
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Value: ")", Pos: l.pos - 1}
	case '\'', '"':
		return l.readString(ch)
	case '=', '!', '<', '>':
		return l.readOperator()
	case '-':
		return l.readNumber()
	}

	if isDigit(ch) {
		return l.readNumber()
	}
	if isIdentStart(ch) {
		return l.readIdent()
	}

	start := l.pos
	r, width := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += width
	return Token{Type: TokenIllegal, Value: string(r), Pos: start, reason: reasonUnexpectedChar}
}

// Tokenize returns every token of input up to and including TokenEOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
		l.pos++
	}
}

func (l *Lexer) readString(quote byte) Token {
	start := l.pos
	l.pos++ // skip opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == '\\' && l.pos+1 < len(l.input):
			sb.WriteByte(l.input[l.pos+1])
			l.pos += 2
		case ch == quote:
			l.pos++ // skip closing quote
			return Token{Type: TokenString, Value: sb.String(), Pos: start}
		default:
			sb.WriteByte(ch)
			l.pos++
		}
	}
	return Token{Type: TokenIllegal, Value: l.input[start:], Pos: start, reason: reasonUnterminated}
}

func (l *Lexer) readOperator() Token {
	start := l.pos
	for l.pos < len(l.input) && isOperatorChar(l.input[l.pos]) {
		l.pos++
	}
	value := l.input[start:l.pos]
	if _, ok := parseCompareOp(value); ok {
		return Token{Type: TokenCompare, Value: value, Pos: start}
	}
	return Token{Type: TokenIllegal, Value: value, Pos: start, reason: reasonUnknownOperator}
}

func (l *Lexer) readNumber() Token {
	start := l.pos
	n := scanNumber(l.input[l.pos:])
	if n == 0 {
		// A lone '-' or a malformed fraction: swallow the rest of the word.
		l.pos++
		l.skipWord()
		return Token{Type: TokenIllegal, Value: l.input[start:l.pos], Pos: start, reason: reasonInvalidLiteral}
	}
	l.pos += n
	if l.pos < len(l.input) && (isIdentChar(l.input[l.pos]) || l.input[l.pos] == '-') {
		l.skipWord()
		return Token{Type: TokenIllegal, Value: l.input[start:l.pos], Pos: start, reason: reasonInvalidLiteral}
	}
	return Token{Type: TokenNumber, Value: l.input[start:l.pos], Pos: start}
}

func (l *Lexer) readIdent() Token {
	start := l.pos
	for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
		l.pos++
	}
	value := l.input[start:l.pos]

	// Check for keywords
	upper := strings.ToUpper(value)
	switch upper {
	case "AND":
		return Token{Type: TokenAnd, Value: upper, Pos: start}
	case "OR":
		return Token{Type: TokenOr, Value: upper, Pos: start}
	case "TRUE", "FALSE":
		return Token{Type: TokenBool, Value: strings.ToLower(value), Pos: start}
	}

	return Token{Type: TokenIdent, Value: value, Pos: start}
}

func (l *Lexer) skipWord() {
	for l.pos < len(l.input) && !isSpace(l.input[l.pos]) && !isDelimiter(l.input[l.pos]) {
		l.pos++
	}
}

// scanNumber returns the length of the numeric literal at the start of s,
// or 0 if s does not start with one. The accepted form is -?[0-9]+(\.[0-9]+)?
func scanNumber(s string) int {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	digits := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i == digits {
		return 0
	}
	if i < len(s) && s[i] == '.' {
		frac := i + 1
		j := frac
		for j < len(s) && isDigit(s[j]) {
			j++
		}
		if j == frac {
			return 0
		}
		i = j
	}
	return i
}

// isNumeric reports whether the whole of s is a numeric literal.
func isNumeric(s string) bool {
	return s != "" && scanNumber(s) == len(s)
}

// IsIdentifier reports whether s is a valid field name.
func IsIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	switch strings.ToUpper(s) {
	case "AND", "OR", "TRUE", "FALSE":
		return false
	}
	return true
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f' || ch == '\v'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '.'
}

func isOperatorChar(ch byte) bool {
	return ch == '=' || ch == '!' || ch == '<' || ch == '>'
}

func isDelimiter(ch byte) bool {
	return ch == '(' || ch == ')' || ch == '\'' || ch == '"' || isOperatorChar(ch)
}
