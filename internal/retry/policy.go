package retry

import (
	"fmt"
	"sync"
	"time"
)

// BackoffKind selects the delay growth function.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
	BackoffFixed       BackoffKind = "fixed"
	BackoffFibonacci   BackoffKind = "fibonacci"
)

// Policy bounds the retry behavior for one target system.
type Policy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Backoff        BackoffKind
	JitterFraction float64 // 0..1, fraction of the computed delay added as random jitter
}

// DefaultPolicy applies to targets without an explicit entry.
var DefaultPolicy = Policy{
	MaxRetries:     3,
	BaseDelay:      1 * time.Second,
	MaxDelay:       30 * time.Second,
	Backoff:        BackoffExponential,
	JitterFraction: 0.1,
}

// Validate checks a policy for nonsensical values.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("base delay must be >= 0, got %v", p.BaseDelay)
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay %v is less than base delay %v", p.MaxDelay, p.BaseDelay)
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		return fmt.Errorf("jitter fraction must be in [0,1], got %v", p.JitterFraction)
	}
	switch p.Backoff {
	case BackoffExponential, BackoffLinear, BackoffFixed, BackoffFibonacci:
	default:
		return fmt.Errorf("unknown backoff kind %q", p.Backoff)
	}
	return nil
}

// PolicySet is the per-target policy table.
// Safe for concurrent use; lookups during retries may race with
// configuration updates from an admin surface.
type PolicySet struct {
	mu       sync.RWMutex
	policies map[string]Policy
	fallback Policy
}

// NewPolicySet creates a table with the given fallback policy.
func NewPolicySet(fallback Policy) *PolicySet {
	return &PolicySet{
		policies: make(map[string]Policy),
		fallback: fallback,
	}
}

// Set registers the policy for a target.
func (ps *PolicySet) Set(target string, p Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("policy for %s: %w", target, err)
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.policies[target] = p
	return nil
}

// ForTarget returns the policy for a target, falling back to the
// set-wide default when none is registered.
func (ps *PolicySet) ForTarget(target string) Policy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if p, ok := ps.policies[target]; ok {
		return p
	}
	return ps.fallback
}
