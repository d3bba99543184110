package deploy

import "fmt"

// Kind classifies a deploy.Error.
type Kind string

// NotFound means a referenced service or node id is unregistered.
const NotFound Kind = "not_found"

// Error is a typed, errors.Is-comparable deploy failure. Infeasible
// placement is not modeled as an Error — it is a normal outcome recorded
// in Deployer.Unplaced (spec.md §8 Scenario 2).
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func notFound(format string, args ...interface{}) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}
