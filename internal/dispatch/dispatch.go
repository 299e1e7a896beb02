// Package dispatch defines the contract between the execution core and
// the external systems that actually perform actions (document stores,
// task boards, chat, spreadsheets). The core never talks to a remote
// API directly; it hands an action to a Dispatcher and interprets the
// structured error it gets back.
package dispatch

import (
	"context"
	"fmt"

	"github.com/torqueflow/torque/internal/param"
)

// Dispatcher executes a single action against an external system.
//
// Implementations are adapters owned by the surrounding application.
// The retry engine consumes the structured *Error type directly, so
// adapters should fail with an *Error whenever they can attach a
// status or code.
type Dispatcher interface {
	Execute(ctx context.Context, action, target string, params param.Object) (param.Object, error)
}

// Func adapts a plain function to the Dispatcher interface.
type Func func(ctx context.Context, action, target string, params param.Object) (param.Object, error)

// Execute implements Dispatcher.
func (f Func) Execute(ctx context.Context, action, target string, params param.Object) (param.Object, error) {
	return f(ctx, action, target, params)
}

// Error is the structured failure an adapter reports.
//
// Status carries an HTTP-like status code when the remote protocol has
// one; Code carries a transport-level error code ("ECONNRESET",
// "ETIMEDOUT") when it does not. Retryable is the adapter's own hint;
// classification may override it for statuses with known semantics.
type Error struct {
	Status     int    // HTTP-like status, 0 if not applicable
	Code       string // transport/provider error code, "" if none
	Message    string
	Retryable  bool
	RetryAfter int64 // seconds until a rate limit resets, 0 if unknown
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Code != "":
		return fmt.Sprintf("dispatch failed: status=%d code=%s: %s", e.Status, e.Code, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("dispatch failed: status=%d: %s", e.Status, e.Message)
	case e.Code != "":
		return fmt.Sprintf("dispatch failed: code=%s: %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("dispatch failed: %s", e.Message)
	}
}
