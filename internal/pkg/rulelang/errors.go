package rulelang

import (
	"errors"
	"fmt"
)

// Sentinel errors for compilation. A *CompileError wraps exactly one of them.
var (
	ErrEmptyRule       = errors.New("empty rule")
	ErrUnexpectedToken = errors.New("unexpected token")
	ErrUnmatchedParen  = errors.New("unmatched parenthesis")
	ErrMissingOperand  = errors.New("missing operand")
	ErrMissingOperator = errors.New("missing operator")
	ErrUnknownOperator = errors.New("unknown operator")
	ErrInvalidLiteral  = errors.New("invalid literal")
	ErrTooDeep         = errors.New("rule too deep")
)

// Sentinel errors for evaluation. A *EvalError wraps exactly one of them.
var (
	ErrUnknownField  = errors.New("unknown field")
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrNonNumeric    = errors.New("non-numeric comparison")
	ErrMalformedNode = errors.New("malformed node")
)

// CompileError reports why a rule string could not be compiled.
type CompileError struct {
	// Pos is the byte offset of the offending token, or -1 if unknown.
	Pos int
	// Token is the offending token text. Empty at end of input.
	Token string
	// Msg is the human-readable description.
	Msg string
	// Err is the sentinel describing the failure class.
	Err error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Pos < 0 {
		return e.Msg
	}
	if e.Token == "" {
		return fmt.Sprintf("%s at position %d", e.Msg, e.Pos)
	}
	return fmt.Sprintf("%s at position %d (near %q)", e.Msg, e.Pos, e.Token)
}

// Unwrap returns the sentinel for errors.Is support.
func (e *CompileError) Unwrap() error {
	return e.Err
}

func compileErr(sentinel error, tok Token, format string, args ...any) *CompileError {
	text := tok.Value
	if tok.Type == TokenEOF {
		text = ""
	}
	return &CompileError{
		Pos:   tok.Pos,
		Token: text,
		Msg:   fmt.Sprintf(format, args...),
		Err:   sentinel,
	}
}

// EvalError reports why a rule could not be evaluated against a context.
type EvalError struct {
	// Field is the field referenced by the failing comparison.
	Field string
	// Kind is one of ErrUnknownField, ErrTypeMismatch, ErrNonNumeric, ErrMalformedNode.
	Kind error
	// Detail optionally adds context, e.g. the operand types.
	Detail string
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap returns the sentinel for errors.Is support.
func (e *EvalError) Unwrap() error {
	return e.Kind
}

// DecodeError reports an AST that cannot be serialized or deserialized.
type DecodeError struct {
	// Path locates the offending node, e.g. "$.left.right".
	Path string
	Msg  string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid ast at %s: %s", e.Path, e.Msg)
}
