package retry

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBaseDelay(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		attempt int
		want    time.Duration
	}{
		{"exponential first", Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Backoff: BackoffExponential}, 1, time.Second},
		{"exponential second", Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Backoff: BackoffExponential}, 2, 2 * time.Second},
		{"exponential fourth", Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Backoff: BackoffExponential}, 4, 8 * time.Second},
		{"exponential capped", Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, Backoff: BackoffExponential}, 10, 30 * time.Second},
		{"linear", Policy{BaseDelay: 2 * time.Second, MaxDelay: time.Minute, Backoff: BackoffLinear}, 3, 6 * time.Second},
		{"linear capped", Policy{BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Second, Backoff: BackoffLinear}, 10, 5 * time.Second},
		{"fixed", Policy{BaseDelay: 3 * time.Second, MaxDelay: time.Minute, Backoff: BackoffFixed}, 7, 3 * time.Second},
		{"fibonacci 1", Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Backoff: BackoffFibonacci}, 1, time.Second},
		{"fibonacci 2", Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Backoff: BackoffFibonacci}, 2, time.Second},
		{"fibonacci 5", Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Backoff: BackoffFibonacci}, 5, 5 * time.Second},
		{"fibonacci 6", Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Backoff: BackoffFibonacci}, 6, 8 * time.Second},
		{"zero attempt clamps", Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Backoff: BackoffExponential}, 0, time.Second},
		{"no cap", Policy{BaseDelay: time.Second, Backoff: BackoffExponential}, 6, 32 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, baseDelay(tt.policy, tt.attempt))
		})
	}
}

func TestJittered_Bounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	base := 4 * time.Second

	for i := 0; i < 1000; i++ {
		d := jittered(base, 0.25, rng)
		assert.GreaterOrEqual(t, d, base)
		assert.Less(t, d, base+time.Second)
	}
}

func TestJittered_Disabled(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	assert.Equal(t, time.Second, jittered(time.Second, 0, rng))
	assert.Equal(t, time.Duration(0), jittered(0, 0.5, rng))
}
