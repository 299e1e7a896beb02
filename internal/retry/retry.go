package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/torqueflow/torque/internal/dispatch"
	"github.com/torqueflow/torque/internal/param"
)

// rateLimitBuffer is added on top of a rate-limit reset hint so the
// next attempt lands after the window actually reopens.
const rateLimitBuffer = 500 * time.Millisecond

// Clock abstracts time for the retry loop. Sleep must be context-aware
// (timer + select, never a blocking time.Sleep) so many workflows can
// wait concurrently without pinning goroutines past cancellation.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// systemClock is the production Clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// AuthRefresher refreshes credentials for one target platform.
// Injected per target; the engine invokes it at most once per call to
// Do, then treats further auth failures as permanent.
type AuthRefresher func(ctx context.Context) error

// AttemptContext carries the state of one in-flight retried call.
// Exposed to logging; every attempt is logged with these fields.
type AttemptContext struct {
	Platform    string
	Operation   string
	Attempt     int
	ErrorType   ErrorType
	LastErr     error
	ElapsedWait time.Duration
}

// Engine wraps single remote calls with classified, policy-bounded
// retry. One Engine is shared by all workflow executions; its policy
// table and counters are concurrency-safe.
type Engine struct {
	policies *PolicySet
	clock    Clock
	stats    *Stats
	logger   *slog.Logger

	mu         sync.RWMutex
	refreshers map[string]AuthRefresher

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects a Clock. Tests use a manual clock that records
// waits instead of sleeping.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPolicy registers a per-target policy at construction.
// Panics on an invalid policy - configuration errors should fail at
// startup, not mid-workflow.
func WithPolicy(target string, p Policy) Option {
	return func(e *Engine) {
		if err := e.policies.Set(target, p); err != nil {
			panic(err)
		}
	}
}

// WithAuthRefresher registers the credential refresh hook for a target.
func WithAuthRefresher(target string, fn AuthRefresher) Option {
	return func(e *Engine) { e.refreshers[target] = fn }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRandSource seeds the jitter source. Tests use a fixed seed for
// reproducible delays.
func WithRandSource(src rand.Source) Option {
	return func(e *Engine) { e.rng = rand.New(src) }
}

// NewEngine creates a retry engine with the given fallback policy.
func NewEngine(fallback Policy, opts ...Option) *Engine {
	e := &Engine{
		policies:   NewPolicySet(fallback),
		clock:      systemClock{},
		stats:      newStats(),
		logger:     slog.Default(),
		refreshers: make(map[string]AuthRefresher),
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policies returns the engine's policy table for runtime configuration.
func (e *Engine) Policies() *PolicySet { return e.policies }

// Stats returns the engine's running counters.
func (e *Engine) Stats() StatsSnapshot { return e.stats.Snapshot() }

// Call identifies one retried operation: which platform and operation
// it is (for policy lookup, logging, and counters), plus per-call
// overrides from the workflow step.
type Call struct {
	Platform  string
	Operation string

	// MaxRetries overrides the policy's retry budget when non-nil.
	MaxRetries *int

	// AttemptTimeout bounds a single invocation of fn. Zero disables
	// the per-attempt deadline.
	AttemptTimeout time.Duration
}

// Do invokes fn until it succeeds, the resolved retry budget is spent,
// or a non-retryable failure is classified. Returns fn's value on
// success and an *ExhaustedError otherwise.
//
// Decision matrix per classified failure:
//   - rate_limit: wait max(reset hint, policy delay) + buffer
//   - auth: run the target's refresh hook once per Do; on success
//     retry immediately, on failure/absence stop
//   - network / server_error: policy backoff + jitter, then retry
//   - validation / conflict / canceled: stop immediately
//
// The attempt budget is resolved once at entry. A successful credential
// refresh is the one case that grows it, by a single attempt, so the
// promised immediate retry happens even when the auth failure landed on
// the last attempt.
func (e *Engine) Do(ctx context.Context, call Call, fn func(ctx context.Context) (param.Object, error)) (param.Object, error) {
	policy := e.policies.ForTarget(call.Platform)
	maxRetries := policy.MaxRetries
	if call.MaxRetries != nil {
		maxRetries = *call.MaxRetries
	}
	maxAttempts := maxRetries + 1

	actx := AttemptContext{Platform: call.Platform, Operation: call.Operation}
	authRefreshed := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		actx.Attempt = attempt

		if err := ctx.Err(); err != nil {
			return nil, e.exhaust(actx, ErrorCanceled, err)
		}

		result, err := e.invoke(ctx, call, fn)
		if err == nil {
			e.stats.recordSuccess()
			if attempt > 1 {
				e.logger.Debug("call succeeded after retry",
					"platform", call.Platform,
					"operation", call.Operation,
					"attempt", attempt,
					"waited", actx.ElapsedWait,
				)
			}
			return result, nil
		}

		actx.ErrorType = Classify(err)
		actx.LastErr = err

		if actx.ErrorType == ErrorCanceled {
			return nil, e.exhaust(actx, ErrorCanceled, err)
		}

		if actx.ErrorType == ErrorAuth {
			refresher := e.refresherFor(call.Platform)
			if refresher == nil || authRefreshed {
				return nil, e.exhaust(actx, ErrorAuth, err)
			}
			authRefreshed = true
			e.stats.recordAuthRefresh()
			e.logger.Info("refreshing credentials",
				"platform", call.Platform,
				"operation", call.Operation,
				"attempt", attempt,
			)
			if rerr := refresher(ctx); rerr != nil {
				e.logger.Warn("credential refresh failed",
					"platform", call.Platform,
					"error", rerr,
				)
				return nil, e.exhaust(actx, ErrorAuth, err)
			}
			// Refresh succeeded: retry immediately, no backoff spent.
			// The retry is granted even when the auth failure landed on
			// the final attempt; refresh runs at most once per Do, so
			// the budget grows by at most one.
			if attempt == maxAttempts {
				maxAttempts++
			}
			continue
		}

		if !Retryable(actx.ErrorType, err) {
			return nil, e.exhaust(actx, actx.ErrorType, err)
		}

		if attempt == maxAttempts {
			return nil, e.exhaust(actx, actx.ErrorType, err)
		}

		delay := e.delayFor(policy, attempt, actx.ErrorType, err)
		e.stats.recordRetry(call.Platform)
		e.logger.Info("retrying after failure",
			"platform", call.Platform,
			"operation", call.Operation,
			"attempt", attempt,
			"error_type", string(actx.ErrorType),
			"delay", delay,
			"error", err,
		)

		if serr := e.clock.Sleep(ctx, delay); serr != nil {
			return nil, e.exhaust(actx, ErrorCanceled, serr)
		}
		actx.ElapsedWait += delay
	}

	// Unreachable: the loop always returns via exhaust on its last
	// iteration. Kept for compiler satisfaction.
	return nil, e.exhaust(actx, actx.ErrorType, actx.LastErr)
}

// invoke runs fn under the per-attempt timeout, if any.
func (e *Engine) invoke(ctx context.Context, call Call, fn func(ctx context.Context) (param.Object, error)) (param.Object, error) {
	if call.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, call.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

// delayFor computes the wait before the next attempt.
// Rate limits honor the remote's reset hint when it exceeds the policy
// delay; everything else uses the policy's backoff curve plus jitter.
func (e *Engine) delayFor(policy Policy, attempt int, t ErrorType, err error) time.Duration {
	computed := baseDelay(policy, attempt)

	if t == ErrorRateLimit {
		e.stats.recordRateLimit()
		if reset := resetHint(err); reset > 0 {
			return max(reset, computed) + rateLimitBuffer
		}
	}

	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return jittered(computed, policy.JitterFraction, e.rng)
}

// resetHint extracts a rate-limit reset wait from a structured
// dispatch error, if present.
func resetHint(err error) time.Duration {
	var de *dispatch.Error
	if errors.As(err, &de) && de.RetryAfter > 0 {
		return time.Duration(de.RetryAfter) * time.Second
	}
	return 0
}

func (e *Engine) refresherFor(platform string) AuthRefresher {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.refreshers[platform]
}

// RegisterAuthRefresher adds or replaces a refresh hook after
// construction. Safe for concurrent use.
func (e *Engine) RegisterAuthRefresher(platform string, fn AuthRefresher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshers[platform] = fn
}

// exhaust finalizes a failed call: bump the counter, log, and build
// the classified terminal error.
func (e *Engine) exhaust(actx AttemptContext, t ErrorType, lastErr error) *ExhaustedError {
	e.stats.recordExhausted()
	e.logger.Warn("call exhausted",
		"platform", actx.Platform,
		"operation", actx.Operation,
		"attempts", actx.Attempt,
		"error_type", string(t),
		"waited", actx.ElapsedWait,
		"error", lastErr,
	)
	return &ExhaustedError{
		Platform:  actx.Platform,
		Operation: actx.Operation,
		Attempts:  actx.Attempt,
		Type:      t,
		LastErr:   lastErr,
	}
}
