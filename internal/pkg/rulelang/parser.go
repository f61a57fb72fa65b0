package rulelang

import (
	"strconv"
	"strings"
)

const (
	// MaxNesting bounds parenthesis nesting in a rule string.
	MaxNesting = 100
	// MaxDepth bounds the height of a compiled or decoded tree.
	MaxDepth = 256
)

// Parser parses rule strings into an AST.
type Parser struct {
	lexer   *Lexer
	current Token
	nesting int
}

// Compile parses the input string and returns the AST root node.
// Errors are always of type *CompileError.
func Compile(input string) (Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &CompileError{Pos: 0, Msg: "empty rule", Err: ErrEmptyRule}
	}
	p := &Parser{lexer: NewLexer(input)}
	p.advance()

	node, _, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, p.unexpected()
	}
	return node, nil
}

// MustCompile is like Compile but panics if the rule cannot be compiled.
func MustCompile(input string) Node {
	n, err := Compile(input)
	if err != nil {
		panic("rulelang: Compile(" + strconv.Quote(input) + "): " + err.Error())
	}
	return n
}

func (p *Parser) advance() {
	p.current = p.lexer.NextToken()
}

// parseOr handles OR expressions (lowest precedence).
func (p *Parser) parseOr() (Node, int, error) {
	left, depth, err := p.parseAnd()
	if err != nil {
		return nil, 0, err
	}

	for p.current.Type == TokenOr {
		op := p.current
		p.advance()
		right, rdepth, err := p.parseAnd()
		if err != nil {
			return nil, 0, err
		}
		left = Logical{Op: OpOr, Left: left, Right: right}
		if depth, err = p.join(op, depth, rdepth); err != nil {
			return nil, 0, err
		}
	}

	return left, depth, nil
}

// parseAnd handles AND expressions.
func (p *Parser) parseAnd() (Node, int, error) {
	left, depth, err := p.parsePrimary()
	if err != nil {
		return nil, 0, err
	}

	for p.current.Type == TokenAnd {
		op := p.current
		p.advance()
		right, rdepth, err := p.parsePrimary()
		if err != nil {
			return nil, 0, err
		}
		left = Logical{Op: OpAnd, Left: left, Right: right}
		if depth, err = p.join(op, depth, rdepth); err != nil {
			return nil, 0, err
		}
	}

	return left, depth, nil
}

// join returns the height of a new logical node over children of the given heights.
func (p *Parser) join(op Token, left, right int) (int, error) {
	depth := 1 + max(left, right)
	if depth > MaxDepth {
		return 0, compileErr(ErrTooDeep, op, "rule too long (tree depth %d > %d)", depth, MaxDepth)
	}
	return depth, nil
}

// parsePrimary handles primary expressions: (expr) and comparisons.
func (p *Parser) parsePrimary() (Node, int, error) {
	switch p.current.Type {
	case TokenLParen:
		open := p.current
		if p.nesting >= MaxNesting {
			return nil, 0, compileErr(ErrTooDeep, open, "parentheses nested too deeply (max %d)", MaxNesting)
		}
		p.nesting++
		p.advance()
		expr, depth, err := p.parseOr()
		if err != nil {
			return nil, 0, err
		}
		if p.current.Type != TokenRParen {
			if p.current.Type == TokenIllegal {
				return nil, 0, p.illegal()
			}
			return nil, 0, compileErr(ErrUnmatchedParen, p.current,
				"expected ')' to close '(' at position %d, got %s", open.Pos, p.current.Type)
		}
		p.nesting--
		p.advance()
		return expr, depth, nil

	case TokenIdent:
		return p.parseComparison()

	case TokenIllegal:
		return nil, 0, p.illegal()

	case TokenEOF, TokenAnd, TokenOr, TokenRParen:
		return nil, 0, compileErr(ErrMissingOperand, p.current,
			"expected identifier or '(', got %s", p.current.Type)

	default:
		return nil, 0, compileErr(ErrUnexpectedToken, p.current,
			"expected identifier or '(', got %s", p.current.Type)
	}
}

// parseComparison parses <identifier> <operator> <literal>.
func (p *Parser) parseComparison() (Node, int, error) {
	field := p.current.Value
	p.advance()

	if p.current.Type != TokenCompare {
		if p.current.Type == TokenIllegal {
			return nil, 0, p.illegal()
		}
		return nil, 0, compileErr(ErrMissingOperator, p.current,
			"expected comparison operator after %q, got %s", field, p.current.Type)
	}
	op, _ := parseCompareOp(p.current.Value)
	p.advance()

	value, err := p.parseLiteral()
	if err != nil {
		return nil, 0, err
	}
	return Comparison{Field: field, Op: op, Value: value}, 1, nil
}

// parseLiteral parses the operand on the right of a comparison operator.
func (p *Parser) parseLiteral() (Value, error) {
	tok := p.current
	switch tok.Type {
	case TokenString:
		p.advance()
		return String(tok.Value), nil

	case TokenNumber:
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return Value{}, compileErr(ErrInvalidLiteral, tok, "invalid number literal")
		}
		p.advance()
		return Number(f), nil

	case TokenBool:
		p.advance()
		return Bool(tok.Value == "true"), nil

	case TokenEOF, TokenAnd, TokenOr, TokenRParen:
		return Value{}, compileErr(ErrMissingOperand, tok, "expected literal, got %s", tok.Type)

	case TokenIllegal:
		return Value{}, p.illegal()

	default:
		return Value{}, compileErr(ErrInvalidLiteral, tok,
			"invalid literal: expected quoted string, number or boolean, got %s", tok.Type)
	}
}

// illegal converts the current TokenIllegal into a CompileError.
func (p *Parser) illegal() error {
	tok := p.current
	switch tok.reason {
	case reasonUnknownOperator:
		return compileErr(ErrUnknownOperator, tok, "unknown operator %q", tok.Value)
	case reasonUnexpectedChar:
		return compileErr(ErrUnexpectedToken, tok, "unexpected character %q", tok.Value)
	default:
		return compileErr(ErrInvalidLiteral, tok, "%s", tok.reason)
	}
}

func (p *Parser) unexpected() error {
	if p.current.Type == TokenIllegal {
		return p.illegal()
	}
	return compileErr(ErrUnexpectedToken, p.current, "unexpected token %s", p.current.Type)
}
