package retry

import (
	"errors"
	"fmt"
)

// ExhaustedError is the terminal failure of a retried call: either the
// policy's attempts ran out, or the classified error type is not
// retryable (validation, conflict, failed auth refresh, cancellation).
//
// Attempts counts invocations of the wrapped function, including the
// first one.
type ExhaustedError struct {
	Platform  string
	Operation string
	Attempts  int
	Type      ErrorType
	LastErr   error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s/%s failed after %d attempt(s) (%s): %v",
		e.Platform, e.Operation, e.Attempts, e.Type, e.LastErr)
}

// Unwrap exposes the last underlying error for errors.Is/As.
func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsExhausted reports whether err is (or wraps) an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// IsCanceled reports whether err is a retry failure caused by caller
// cancellation rather than the remote call itself.
func IsCanceled(err error) bool {
	var ee *ExhaustedError
	if errors.As(err, &ee) {
		return ee.Type == ErrorCanceled
	}
	return false
}
