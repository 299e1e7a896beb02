package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torqueflow/torque/internal/param"
	"github.com/torqueflow/torque/internal/testutil"
)

func testRequest() Request {
	return Request{
		SignalID: "signal-42",
		Action:   "send_message",
		Target:   "chat",
		Params:   param.Object{"channel": param.String("#ops")},
	}
}

func TestGate_ExecuteSuppressesDuplicates(t *testing.T) {
	store := NewMemoryStore(WithStoreLogger(discardLogger()))
	defer store.Close()
	gate := NewGate(store, WithGateLogger(discardLogger()))
	ctx := context.Background()

	calls := 0
	executor := func(ctx context.Context) (param.Object, error) {
		calls++
		return param.Object{"message_id": param.String("m-1")}, nil
	}

	result, cached, err := gate.Execute(ctx, testRequest(), executor)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, param.String("m-1"), result["message_id"])
	assert.Equal(t, 1, calls)

	// Redelivery of the same signal returns the cached result without
	// touching the executor.
	result, cached, err = gate.Execute(ctx, testRequest(), executor)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, param.String("m-1"), result["message_id"])
	assert.Equal(t, 1, calls)

	stats := gate.Stats()
	assert.Equal(t, int64(1), stats.Executions)
	assert.Equal(t, int64(1), stats.DuplicatesPrevented)
}

func TestGate_DistinctRequestsExecuteIndependently(t *testing.T) {
	store := NewMemoryStore(WithStoreLogger(discardLogger()))
	defer store.Close()
	gate := NewGate(store, WithGateLogger(discardLogger()))
	ctx := context.Background()

	calls := 0
	executor := func(ctx context.Context) (param.Object, error) {
		calls++
		return param.Object{}, nil
	}

	first := testRequest()
	second := testRequest()
	second.SignalID = "signal-43"

	_, cached, err := gate.Execute(ctx, first, executor)
	require.NoError(t, err)
	assert.False(t, cached)

	_, cached, err = gate.Execute(ctx, second, executor)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, calls)
}

func TestGate_FailureIsNotMarked(t *testing.T) {
	store := NewMemoryStore(WithStoreLogger(discardLogger()))
	defer store.Close()
	gate := NewGate(store, WithGateLogger(discardLogger()))
	ctx := context.Background()

	calls := 0
	boom := errors.New("downstream unavailable")
	failing := func(ctx context.Context) (param.Object, error) {
		calls++
		return nil, boom
	}

	_, cached, err := gate.Execute(ctx, testRequest(), failing)
	require.ErrorIs(t, err, boom)
	assert.False(t, cached)

	// The failed attempt left no record, so a retry executes again and
	// its success is what gets cached.
	result, cached, err := gate.Execute(ctx, testRequest(),
		func(ctx context.Context) (param.Object, error) {
			calls++
			return param.Object{"ok": param.Bool(true)}, nil
		})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, param.Bool(true), result["ok"])
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), gate.Stats().Executions)
	assert.Equal(t, int64(0), gate.Stats().DuplicatesPrevented)
}

func TestGate_TTLExpiryAllowsReexecution(t *testing.T) {
	store := NewMemoryStore(WithStoreLogger(discardLogger()))
	defer store.Close()
	clock := testutil.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	gate := NewGate(store,
		WithTTL(time.Hour),
		WithNow(clock.Now),
		WithGateLogger(discardLogger()),
	)
	ctx := context.Background()

	calls := 0
	executor := func(ctx context.Context) (param.Object, error) {
		calls++
		return param.Object{}, nil
	}

	_, cached, err := gate.Execute(ctx, testRequest(), executor)
	require.NoError(t, err)
	assert.False(t, cached)

	clock.Advance(30 * time.Minute)
	_, cached, err = gate.Execute(ctx, testRequest(), executor)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 1, calls)

	// Past the TTL the record is gone and the action runs again.
	clock.Advance(31 * time.Minute)
	_, cached, err = gate.Execute(ctx, testRequest(), executor)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, calls)
}

func TestGate_CheckAndMark(t *testing.T) {
	store := NewMemoryStore(WithStoreLogger(discardLogger()))
	defer store.Close()
	gate := NewGate(store, WithGateLogger(discardLogger()))
	ctx := context.Background()

	key, err := Key(testRequest())
	require.NoError(t, err)

	executed, _, err := gate.CheckExecuted(ctx, key)
	require.NoError(t, err)
	assert.False(t, executed)

	require.NoError(t, gate.MarkExecuted(ctx, key, param.Object{"id": param.String("x")}, 0))

	executed, result, err := gate.CheckExecuted(ctx, key)
	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, param.String("x"), result["id"])
}

func TestGate_MarkFailureStillReturnsResult(t *testing.T) {
	gate := NewGate(failingStore{}, WithGateLogger(discardLogger()))
	ctx := context.Background()

	result, cached, err := gate.Execute(ctx, testRequest(),
		func(ctx context.Context) (param.Object, error) {
			return param.Object{"done": param.Bool(true)}, nil
		})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, param.Bool(true), result["done"])
}

// failingStore accepts reads but rejects writes, modeling a mark that
// cannot be persisted after the action already ran.
type failingStore struct{}

func (failingStore) Get(context.Context, string, time.Time) (Record, bool, error) {
	return Record{}, false, nil
}

func (failingStore) Put(context.Context, Record) error {
	return errors.New("store write refused")
}

func (failingStore) RemoveExpired(context.Context, time.Time) (int, error) { return 0, nil }

func (failingStore) Len(context.Context) (int, error) { return 0, nil }
