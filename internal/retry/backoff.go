package retry

import (
	"math/rand/v2"
	"time"
)

// growthFactor is the multiplier for exponential backoff.
const growthFactor = 2

// baseDelay computes the un-jittered delay before retry attempt n
// (n >= 1, i.e. the delay after the nth failed attempt), capped at the
// policy's max delay.
func baseDelay(p Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = p.BaseDelay * time.Duration(attempt)
	case BackoffFixed:
		d = p.BaseDelay
	case BackoffFibonacci:
		d = p.BaseDelay * time.Duration(fib(attempt))
	default: // exponential
		d = p.BaseDelay
		for i := 1; i < attempt; i++ {
			d *= growthFactor
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		d = p.MaxDelay
	}
	return d
}

// fib returns the nth Fibonacci number (1, 1, 2, 3, 5, ...).
func fib(n int) int64 {
	a, b := int64(1), int64(1)
	for i := 2; i <= n; i++ {
		a, b = b, a+b
	}
	return a
}

// jittered adds random jitter on top of a computed delay:
// d + U[0, f*d). Jitter is additive so the policy's base delay remains
// a lower bound (retry storms desynchronize without anyone retrying
// early).
func jittered(d time.Duration, fraction float64, rng *rand.Rand) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	return d + time.Duration(rng.Float64()*fraction*float64(d))
}
