package workflow

import (
	"errors"
	"fmt"
)

// ErrNotHydrated is returned when a workflow is handed a context that did not
// come from the hydrator. It indicates a wiring bug, not bad input.
var ErrNotHydrated = errors.New("workflow: working memory is not hydrated")

// ExecutionError wraps any failure inside a workflow. Writes committed before
// the failure stay committed.
type ExecutionError struct {
	Intent Intent
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s workflow: %v", e.Intent, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
