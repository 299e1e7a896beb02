package store

import (
	"context"
	"fmt"
	"time"

	"github.com/torqueflow/torque/internal/rollback"
)

// AuditLog persists executed actions beyond the in-memory rollback
// ledger. Implements the engine's Auditor hook.
//
// The audit trail is write-mostly: rows are appended as steps succeed
// and read back for post-incident review. ON CONFLICT DO NOTHING keeps
// replays idempotent by action id.
type AuditLog struct {
	store *Store
}

// NewAuditLog wraps an open Store.
func NewAuditLog(s *Store) *AuditLog {
	return &AuditLog{store: s}
}

// AppendAction writes one executed action row.
func (a *AuditLog) AppendAction(ctx context.Context, executionID string, entry rollback.ExecutedAction) error {
	paramsJSON, err := marshalObject(entry.Params)
	if err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}
	resultJSON, err := marshalObject(entry.Result)
	if err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}

	_, err = a.store.db.ExecContext(ctx, `
		INSERT INTO executed_actions
		(action_id, execution_id, step_id, action, target, params, result, class, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO NOTHING
	`,
		entry.ActionID,
		executionID,
		entry.StepID,
		entry.Action,
		entry.Target,
		paramsJSON,
		resultJSON,
		string(entry.Class),
		entry.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}
	return nil
}

// AuditRow is one persisted executed action.
type AuditRow struct {
	ActionID    string
	ExecutionID string
	StepID      string
	Action      string
	Target      string
	Class       string
	RecordedAt  time.Time
}

// ActionsForExecution returns the audit rows for one execution in
// recording order.
func (a *AuditLog) ActionsForExecution(ctx context.Context, executionID string) ([]AuditRow, error) {
	rows, err := a.store.db.QueryContext(ctx, `
		SELECT action_id, execution_id, step_id, action, target, class, recorded_at
		FROM executed_actions
		WHERE execution_id = ?
		ORDER BY recorded_at ASC, action_id ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query audit rows: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var (
			row        AuditRow
			recordedAt int64
		)
		if err := rows.Scan(&row.ActionID, &row.ExecutionID, &row.StepID,
			&row.Action, &row.Target, &row.Class, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		row.RecordedAt = time.UnixMilli(recordedAt)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return out, nil
}

// Prune removes audit rows older than the retention window.
func (a *AuditLog) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := a.store.db.ExecContext(ctx, `
		DELETE FROM executed_actions WHERE recorded_at < ?
	`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune audit rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune audit rows: %w", err)
	}
	return int(n), nil
}
