package idempotency

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/torqueflow/torque/internal/param"
)

// Record is one cached execution result.
// Records are immutable once written: eviction and expiry remove them,
// nothing mutates them in place (the hit counter lives on the store's
// bookkeeping side, not in the cached value).
type Record struct {
	Key       string
	Result    param.Object
	CreatedAt time.Time
	ExpiresAt time.Time
	Hits      int64
}

// Store is the pluggable record store behind the Gate.
// Implementations must be safe for concurrent use; multiple workflow
// executions may probe the same key at once.
//
// Get must treat expired records as absent. RemoveExpired is the shared
// removal path used by both background cleanup and inline eviction.
type Store interface {
	Get(ctx context.Context, key string, now time.Time) (Record, bool, error)
	Put(ctx context.Context, rec Record) error
	RemoveExpired(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}

// evictFraction is the share of entries dropped (oldest first) when the
// store hits its size bound. Coarse on purpose: strict LRU buys little
// for a duplicate-suppression cache with TTLs.
const evictFraction = 0.2

// MemoryStore is the default in-process Store: a mutex-guarded map with
// a size bound and optional background cleanup.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]*Record
	maxEntries int

	stopOnce sync.Once
	stop     chan struct{}
	logger   *slog.Logger
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMaxEntries bounds the store size. When an insert would exceed
// the bound, the oldest ~20% of entries by CreatedAt are evicted first.
func WithMaxEntries(n int) MemoryStoreOption {
	return func(s *MemoryStore) { s.maxEntries = n }
}

// WithCleanupInterval starts a background janitor that removes expired
// records on a fixed cadence. Stop the janitor with Close.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		go s.janitor(interval)
	}
}

// WithStoreLogger overrides the default slog logger.
func WithStoreLogger(l *slog.Logger) MemoryStoreOption {
	return func(s *MemoryStore) { s.logger = l }
}

// DefaultMaxEntries bounds the in-memory cache when no option is given.
const DefaultMaxEntries = 10000

// NewMemoryStore creates an in-memory record store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		records:    make(map[string]*Record),
		maxEntries: DefaultMaxEntries,
		stop:       make(chan struct{}),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the record for key if present and unexpired.
// A hit bumps the record's hit counter.
func (s *MemoryStore) Get(_ context.Context, key string, now time.Time) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, false, nil
	}
	if !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt) {
		// Expired but not yet swept: absent from the caller's view.
		delete(s.records, key)
		return Record{}, false, nil
	}
	rec.Hits++
	return *rec, true, nil
}

// Put inserts a record, making room first if the store is at its
// bound: expired records are swept through the same removal path the
// janitor uses, and only if the store is still full are the oldest
// live entries evicted. Existing keys are overwritten (replacement
// happens only through the expiry/eviction path; the Gate never
// re-marks a live key).
func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Key]; !exists && s.maxEntries > 0 && len(s.records) >= s.maxEntries {
		s.removeExpiredLocked(rec.CreatedAt)
		if len(s.records) >= s.maxEntries {
			s.evictOldestLocked()
		}
	}
	stored := rec
	s.records[rec.Key] = &stored
	return nil
}

// evictOldestLocked removes the oldest evictFraction of entries by
// CreatedAt. Caller holds s.mu.
func (s *MemoryStore) evictOldestLocked() {
	n := int(float64(len(s.records)) * evictFraction)
	if n < 1 {
		n = 1
	}

	type aged struct {
		key       string
		createdAt time.Time
	}
	entries := make([]aged, 0, len(s.records))
	for k, r := range s.records {
		entries = append(entries, aged{k, r.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	for i := 0; i < n && i < len(entries); i++ {
		delete(s.records, entries[i].key)
	}
	s.logger.Debug("evicted idempotency records", "count", n, "remaining", len(s.records))
}

// RemoveExpired drops every record whose TTL has passed.
func (s *MemoryStore) RemoveExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeExpiredLocked(now), nil
}

// removeExpiredLocked is the single removal path for expired records,
// shared by the janitor and the inline sweep in Put. Caller holds s.mu.
func (s *MemoryStore) removeExpiredLocked(now time.Time) int {
	removed := 0
	for k, r := range s.records {
		if !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt) {
			delete(s.records, k)
			removed++
		}
	}
	return removed
}

// Len returns the current record count.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}

// Close stops the background janitor, if one was started.
func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			removed, _ := s.RemoveExpired(context.Background(), time.Now())
			if removed > 0 {
				s.logger.Debug("idempotency cleanup", "removed", removed)
			}
		}
	}
}
