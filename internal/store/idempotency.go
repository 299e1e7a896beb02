package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/torqueflow/torque/internal/idempotency"
	"github.com/torqueflow/torque/internal/param"
)

// IdempotencyStore is a durable idempotency.Store over sqlite.
// Duplicate suppression survives process restarts, which matters when
// signal redelivery windows are longer than deployment cycles.
type IdempotencyStore struct {
	store      *Store
	maxEntries int
}

// evictFraction matches the in-memory store: drop the oldest ~20% by
// created_at when the size bound is hit.
const evictFraction = 0.2

// NewIdempotencyStore wraps an open Store. maxEntries <= 0 disables
// the size bound.
func NewIdempotencyStore(s *Store, maxEntries int) *IdempotencyStore {
	return &IdempotencyStore{store: s, maxEntries: maxEntries}
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// Get returns the record for key if present and unexpired, bumping its
// hit counter.
func (s *IdempotencyStore) Get(ctx context.Context, key string, now time.Time) (idempotency.Record, bool, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT key, result, created_at, expires_at, hits
		FROM idempotency_records
		WHERE key = ? AND expires_at > ?
	`, key, now.UnixMilli())

	var (
		rec        idempotency.Record
		resultJSON string
		createdAt  int64
		expiresAt  int64
	)
	if err := row.Scan(&rec.Key, &resultJSON, &createdAt, &expiresAt, &rec.Hits); err != nil {
		if err == sql.ErrNoRows {
			return idempotency.Record{}, false, nil
		}
		return idempotency.Record{}, false, fmt.Errorf("read idempotency record: %w", err)
	}

	result, err := unmarshalObject(resultJSON)
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("read idempotency record %s: %w", key, err)
	}
	rec.Result = result
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.ExpiresAt = time.UnixMilli(expiresAt)

	if _, err := s.store.db.ExecContext(ctx, `
		UPDATE idempotency_records SET hits = hits + 1 WHERE key = ?
	`, key); err != nil {
		return idempotency.Record{}, false, fmt.Errorf("bump hit counter: %w", err)
	}
	rec.Hits++

	return rec, true, nil
}

// Put inserts a record, making room first when the store is at its
// bound: expired rows are removed through RemoveExpired, and only if
// the table is still full are the oldest live rows evicted. ON CONFLICT
// REPLACE keeps the write idempotent for the first-writer-wins race:
// both writers cached the same logical result.
func (s *IdempotencyStore) Put(ctx context.Context, rec idempotency.Record) error {
	if s.maxEntries > 0 {
		var count int
		if err := s.store.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM idempotency_records`).Scan(&count); err != nil {
			return fmt.Errorf("count idempotency records: %w", err)
		}
		if count >= s.maxEntries {
			removed, err := s.RemoveExpired(ctx, rec.CreatedAt)
			if err != nil {
				return err
			}
			if count-removed >= s.maxEntries {
				if err := s.evictOldest(ctx, count-removed); err != nil {
					return err
				}
			}
		}
	}

	resultJSON, err := marshalObject(rec.Result)
	if err != nil {
		return fmt.Errorf("write idempotency record: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (key, result, created_at, expires_at, hits)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(key) DO UPDATE SET
			result = excluded.result,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`,
		rec.Key,
		resultJSON,
		rec.CreatedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write idempotency record: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) evictOldest(ctx context.Context, count int) error {
	n := int(float64(count) * evictFraction)
	if n < 1 {
		n = 1
	}
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM idempotency_records
		WHERE key IN (
			SELECT key FROM idempotency_records
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, n)
	if err != nil {
		return fmt.Errorf("evict idempotency records: %w", err)
	}
	return nil
}

// RemoveExpired drops every record whose TTL has passed.
// Shared removal path for background cleanup and inline eviction.
func (s *IdempotencyStore) RemoveExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.store.db.ExecContext(ctx, `
		DELETE FROM idempotency_records WHERE expires_at <= ?
	`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("remove expired records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove expired records: %w", err)
	}
	return int(n), nil
}

// Len returns the current record count.
func (s *IdempotencyStore) Len(ctx context.Context) (int, error) {
	var count int
	if err := s.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM idempotency_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count idempotency records: %w", err)
	}
	return count, nil
}

// marshalObject serializes a parameter object as canonical JSON so
// stored bytes are deterministic across writers.
func marshalObject(obj param.Object) (string, error) {
	if obj == nil {
		obj = param.Object{}
	}
	data, err := param.MarshalCanonical(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalObject(data string) (param.Object, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, err
	}
	return param.ObjectFromAny(raw)
}
