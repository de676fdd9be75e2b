package expression

import (
	"fmt"
)

// Error is a typed expression evaluation error. It wraps the underlying cause
// and remembers which operator failed so that callers can report precisely.
type Error struct {
	Op      string
	Content string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to evaluate %s expression %s: %v", e.Op, e.Content, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewExpressionError wraps an evaluation failure into a typed Error.
func NewExpressionError(e *Expression, err error) error {
	return &Error{Op: e.Op, Content: e.String(), Err: err}
}

// UnmarshalError is returned when an expression cannot be parsed.
type UnmarshalError struct {
	Kind    string
	Content string
}

func (e *UnmarshalError) Error() string {
	return fmt.Sprintf("parsing error in %s at %q", e.Kind, e.Content)
}

// NewUnmarshalError creates a typed parsing error.
func NewUnmarshalError(kind, content string) error {
	return &UnmarshalError{Kind: kind, Content: content}
}

// NewInvalidArgumentsError signals malformed operator arguments.
func NewInvalidArgumentsError(content string) error {
	return fmt.Errorf("invalid arguments at %q", content)
}
