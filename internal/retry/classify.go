package retry

import (
	"context"
	"errors"
	"strings"

	"github.com/torqueflow/torque/internal/dispatch"
)

// ErrorType is the classified category of a remote call failure.
// Classification drives the retry decision matrix: transient types are
// retried with backoff, auth gets one refresh cycle, permanent types
// stop immediately.
type ErrorType string

const (
	ErrorNetwork    ErrorType = "network"
	ErrorRateLimit  ErrorType = "rate_limit"
	ErrorAuth       ErrorType = "auth"
	ErrorServer     ErrorType = "server_error"
	ErrorConflict   ErrorType = "conflict"
	ErrorValidation ErrorType = "validation"
	ErrorCanceled   ErrorType = "canceled"
	ErrorUnknown    ErrorType = "unknown"
)

// networkCodes are transport-level error codes that indicate a
// transient connectivity failure.
var networkCodes = map[string]bool{
	"ECONNRESET":   true,
	"ECONNREFUSED": true,
	"ETIMEDOUT":    true,
	"EPIPE":        true,
	"EAI_AGAIN":    true,
	"ENOTFOUND":    true,
}

// Classify maps an error to its ErrorType.
//
// Precedence: context cancellation, then HTTP-like status from a
// structured dispatch error (429 rate_limit, 401/403 auth, 409
// conflict, 400/422 validation, 5xx server_error), then transport
// codes, then message heuristics for adapters that lose the code.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}

	if errors.Is(err, context.Canceled) {
		return ErrorCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Attempt timeouts are transient: the next attempt gets a
		// fresh deadline.
		return ErrorNetwork
	}

	var de *dispatch.Error
	if errors.As(err, &de) {
		if t, ok := classifyStatus(de.Status); ok {
			return t
		}
		if networkCodes[de.Code] {
			return ErrorNetwork
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network"):
		return ErrorNetwork
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return ErrorRateLimit
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "token expired"):
		return ErrorAuth
	}

	return ErrorUnknown
}

func classifyStatus(status int) (ErrorType, bool) {
	switch {
	case status == 0:
		return ErrorUnknown, false
	case status == 429:
		return ErrorRateLimit, true
	case status == 401 || status == 403:
		return ErrorAuth, true
	case status == 409:
		return ErrorConflict, true
	case status == 400 || status == 422:
		return ErrorValidation, true
	case status >= 500:
		return ErrorServer, true
	default:
		return ErrorUnknown, false
	}
}

// Retryable reports whether a classified error type is eligible for
// backoff-based retry. Auth is handled separately (refresh cycle, not
// backoff); validation, conflict, and cancellation never retry.
//
// Unknown errors retry only when the adapter's own hint says so.
func Retryable(t ErrorType, err error) bool {
	switch t {
	case ErrorNetwork, ErrorServer, ErrorRateLimit:
		return true
	case ErrorUnknown:
		var de *dispatch.Error
		if errors.As(err, &de) {
			return de.Retryable
		}
		return false
	default:
		return false
	}
}
