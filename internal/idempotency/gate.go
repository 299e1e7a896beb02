// Package idempotency implements exactly-once dispatch for successful
// actions: a deterministic key over the logical request plus a bounded,
// TTL-expiring result cache.
//
// The gate only guards success. A failed executor leaves the key
// unmarked so the same logical request can be attempted again.
//
// Known, accepted race: two callers that miss the cache simultaneously
// both execute, and the first to mark wins. Resolving it would need a
// per-key lease; the duplicate-signal window it leaves open is narrow
// and the dispatched actions are expected to tolerate it.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/torqueflow/torque/internal/param"
)

// DefaultTTL applies when MarkExecuted is called without an explicit TTL.
const DefaultTTL = 24 * time.Hour

// Gate is the idempotency check in front of action dispatch.
// Safe for concurrent use when its Store is.
type Gate struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	duplicatesPrevented atomic.Int64
	executions          atomic.Int64

	logger *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithTTL overrides the default record TTL.
func WithTTL(ttl time.Duration) GateOption {
	return func(g *Gate) { g.ttl = ttl }
}

// WithNow injects the time source. Tests use a fixed or stepped clock.
func WithNow(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// WithGateLogger overrides the default slog logger.
func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// NewGate creates a Gate over the given store.
// The store is injected rather than module-global so isolated instances
// can coexist (one per test, or one per tenant).
func NewGate(store Store, opts ...GateOption) *Gate {
	g := &Gate{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckExecuted reports whether key has a live cached result.
func (g *Gate) CheckExecuted(ctx context.Context, key string) (bool, param.Object, error) {
	rec, ok, err := g.store.Get(ctx, key, g.now())
	if err != nil {
		return false, nil, fmt.Errorf("idempotency check: %w", err)
	}
	if !ok {
		return false, nil, nil
	}
	return true, rec.Result, nil
}

// MarkExecuted caches a successful result under key.
// A ttl of zero uses the gate default.
func (g *Gate) MarkExecuted(ctx context.Context, key string, result param.Object, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = g.ttl
	}
	now := g.now()
	rec := Record{
		Key:       key,
		Result:    result,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := g.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("idempotency mark: %w", err)
	}
	return nil
}

// Execute runs the check-then-execute-then-mark sequence for a request.
//
// On a cache hit the executor is never invoked; the cached result is
// returned with cached=true and the duplicate-prevented counter bumped.
// On a miss the executor runs exactly once; only a successful result is
// marked. Executor failure leaves no record, so a later delivery of the
// same signal re-attempts the action.
func (g *Gate) Execute(
	ctx context.Context,
	req Request,
	executor func(ctx context.Context) (param.Object, error),
) (result param.Object, cached bool, err error) {
	key, err := Key(req)
	if err != nil {
		return nil, false, err
	}

	executed, cachedResult, err := g.CheckExecuted(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if executed {
		g.duplicatesPrevented.Add(1)
		g.logger.Info("duplicate action suppressed",
			"signal_id", req.SignalID,
			"action", req.Action,
			"target", req.Target,
			"key", key,
		)
		return cachedResult, true, nil
	}

	result, err = executor(ctx)
	if err != nil {
		// Not marked: failure must stay retryable under the same key.
		return nil, false, err
	}

	g.executions.Add(1)
	if merr := g.MarkExecuted(ctx, key, result, 0); merr != nil {
		// The action happened; a mark failure only weakens duplicate
		// suppression. Log and return the result anyway.
		g.logger.Warn("failed to mark executed action",
			"key", key,
			"error", merr,
		)
	}
	return result, false, nil
}

// StatsSnapshot is a point-in-time copy of the gate counters.
type StatsSnapshot struct {
	DuplicatesPrevented int64 `json:"duplicates_prevented"`
	Executions          int64 `json:"executions"`
}

// Stats returns the gate's running counters.
func (g *Gate) Stats() StatsSnapshot {
	return StatsSnapshot{
		DuplicatesPrevented: g.duplicatesPrevented.Load(),
		Executions:          g.executions.Load(),
	}
}
