package engine

import (
	"errors"
	"fmt"

	"github.com/torqueflow/torque/internal/retry"
)

// StepError wraps a step id with its underlying classified failure.
// Step errors are handled inside Execute (skip if optional, else
// rollback); they surface only inside the returned Result.
type StepError struct {
	WorkflowID string
	StepID     string
	Err        error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.StepID, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *StepError) Unwrap() error {
	return e.Err
}

// IsStepCanceled reports whether a step failure came from caller
// cancellation rather than the remote system.
func IsStepCanceled(err error) bool {
	var se *StepError
	if errors.As(err, &se) {
		return retry.IsCanceled(se.Err)
	}
	return retry.IsCanceled(err)
}
