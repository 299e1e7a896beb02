package rollback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torqueflow/torque/internal/param"
	"github.com/torqueflow/torque/internal/retry"
	"github.com/torqueflow/torque/internal/workflow"
)

// undoCall captures one dispatched undo for assertions.
type undoCall struct {
	call retry.Call
	undo UndoAction
}

// recordingExecutor collects undo dispatches and fails the actions
// whose undo name appears in fail.
func recordingExecutor(calls *[]undoCall, fail map[string]error) Executor {
	return func(ctx context.Context, call retry.Call, undo UndoAction) (param.Object, error) {
		*calls = append(*calls, undoCall{call, undo})
		if err, ok := fail[undo.Action]; ok {
			return nil, err
		}
		return param.Object{}, nil
	}
}

func newTestCoordinator(exec Executor) *Coordinator {
	return NewCoordinator(
		NewMappingResolver(DefaultMappings()),
		exec,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestCoordinator_RecordFillsDefaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCoordinator(nil, nil,
		WithNow(func() time.Time { return now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	returned := c.Record("wf-1", ExecutedAction{
		StepID: "create",
		Action: "create_document",
		Target: "docs",
	})

	entries := c.Entries("wf-1")
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ActionID)
	assert.Equal(t, ClassReversible, entries[0].Class)
	assert.Equal(t, now, entries[0].RecordedAt)
	assert.Equal(t, StatusRecorded, entries[0].Status)
	assert.Equal(t, 1, c.LedgerSize("wf-1"))

	// The caller gets the entry as stored, not its input back.
	assert.Equal(t, entries[0], returned)
}

func TestCoordinator_RollbackReverseOrder(t *testing.T) {
	var calls []undoCall
	c := newTestCoordinator(recordingExecutor(&calls, nil))
	ctx := context.Background()

	c.Record("wf-1", ExecutedAction{
		StepID: "create", Action: "create_document", Target: "docs",
		Result: param.Object{"document_id": param.String("doc-1")},
	})
	c.Record("wf-1", ExecutedAction{
		StepID: "upload", Action: "upload_file", Target: "drive",
		Result: param.Object{"file_id": param.String("f-1")},
	})
	c.Record("wf-1", ExecutedAction{
		StepID: "log", Action: "append_row", Target: "sheets",
		Result: param.Object{"row_id": param.String("r-1")},
	})

	res, err := c.Rollback(ctx, "wf-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.RolledBack)
	assert.Equal(t, 1, res.Lossy)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 0, res.Manual)

	// Strict reverse recording order.
	require.Len(t, calls, 3)
	assert.Equal(t, "delete_row", calls[0].undo.Action)
	assert.Equal(t, "delete_file", calls[1].undo.Action)
	assert.Equal(t, "delete_document", calls[2].undo.Action)

	// Undo calls are retried under a distinct operation name.
	assert.Equal(t, "undo:append_row", calls[0].call.Operation)
	assert.Equal(t, "sheets", calls[0].call.Platform)
	assert.Equal(t, DefaultActionTimeout, calls[0].call.AttemptTimeout)

	entries := c.Entries("wf-1")
	assert.Equal(t, StatusRolledBack, entries[0].Status)
	assert.Equal(t, StatusRolledBack, entries[2].Status)
	assert.True(t, entries[2].Lossy)
	assert.False(t, entries[0].Lossy)
}

func TestCoordinator_NonReversibleBecomesManual(t *testing.T) {
	var calls []undoCall
	c := newTestCoordinator(recordingExecutor(&calls, nil))
	ctx := context.Background()

	c.Record("wf-1", ExecutedAction{
		StepID: "create", Action: "create_document", Target: "docs",
		Result: param.Object{"document_id": param.String("doc-1")},
	})
	c.Record("wf-1", ExecutedAction{
		StepID: "notify", Action: "send_notification", Target: "chat",
	})

	res, err := c.Rollback(ctx, "wf-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RolledBack)
	assert.Equal(t, 1, res.Manual)
	require.Len(t, res.ManualSteps, 1)
	assert.Contains(t, res.ManualSteps[0], "send_notification on chat")
	assert.Contains(t, res.ManualSteps[0], "cannot be undone automatically")

	// The notification never reached the executor.
	require.Len(t, calls, 1)
	assert.Equal(t, "delete_document", calls[0].undo.Action)

	entries := c.Entries("wf-1")
	assert.Equal(t, StatusManual, entries[1].Status)
	assert.NotEmpty(t, entries[1].Note)
}

func TestCoordinator_ConfirmationGating(t *testing.T) {
	var calls []undoCall
	c := newTestCoordinator(recordingExecutor(&calls, nil))
	ctx := context.Background()

	c.Record("wf-1", ExecutedAction{
		StepID: "archive", Action: "archive_thread", Target: "chat",
	})
	actionID := c.Entries("wf-1")[0].ActionID

	// Unconfirmed: the destructive undo becomes a manual item.
	res, err := c.Rollback(ctx, "wf-1", Options{RequireConfirmation: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Manual)
	assert.Equal(t, 0, res.RolledBack)
	assert.Empty(t, calls)
	require.Len(t, res.ManualSteps, 1)
	assert.Contains(t, res.ManualSteps[0], actionID)

	// Confirmed by ActionID: the undo dispatches. No mapping exists for
	// archive_thread so the entry carries a step-level undo spec.
	c.Forget("wf-1")
	c.Record("wf-1", ExecutedAction{
		StepID: "archive", Action: "archive_thread", Target: "chat",
		Result: param.Object{"thread_id": param.String("t-1")},
		Spec: &workflow.RollbackSpec{
			Action: "unarchive_thread",
			Params: map[string]string{"thread_id": "$result.thread_id"},
		},
	})
	confirmedID := c.Entries("wf-1")[0].ActionID

	res, err = c.Rollback(ctx, "wf-1", Options{
		RequireConfirmation: true,
		Confirmed:           map[string]bool{confirmedID: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RolledBack)
	assert.Equal(t, 0, res.Manual)
	require.Len(t, calls, 1)
	assert.Equal(t, "unarchive_thread", calls[0].undo.Action)
}

func TestCoordinator_UndoFailureIsRecordedNotThrown(t *testing.T) {
	var calls []undoCall
	c := newTestCoordinator(recordingExecutor(&calls, map[string]error{
		"delete_file": errors.New("drive unavailable"),
	}))
	ctx := context.Background()

	c.Record("wf-1", ExecutedAction{
		StepID: "create", Action: "create_document", Target: "docs",
		Result: param.Object{"document_id": param.String("doc-1")},
	})
	c.Record("wf-1", ExecutedAction{
		StepID: "upload", Action: "upload_file", Target: "drive",
		Result: param.Object{"file_id": param.String("f-1")},
	})

	res, err := c.Rollback(ctx, "wf-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.RolledBack)

	// Best effort: the earlier entry still got its undo.
	require.Len(t, calls, 2)
	assert.Equal(t, "delete_file", calls[0].undo.Action)
	assert.Equal(t, "delete_document", calls[1].undo.Action)

	entries := c.Entries("wf-1")
	assert.Equal(t, StatusFailed, entries[1].Status)
	assert.Equal(t, StatusRolledBack, entries[0].Status)
}

func TestCoordinator_StopOnFailure(t *testing.T) {
	var calls []undoCall
	c := newTestCoordinator(recordingExecutor(&calls, map[string]error{
		"delete_file": errors.New("drive unavailable"),
	}))
	ctx := context.Background()

	c.Record("wf-1", ExecutedAction{
		StepID: "create", Action: "create_document", Target: "docs",
		Result: param.Object{"document_id": param.String("doc-1")},
	})
	c.Record("wf-1", ExecutedAction{
		StepID: "upload", Action: "upload_file", Target: "drive",
		Result: param.Object{"file_id": param.String("f-1")},
	})

	res, err := c.Rollback(ctx, "wf-1", Options{StopOnFailure: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, res.RolledBack)
	require.Len(t, calls, 1)
	assert.Equal(t, "delete_file", calls[0].undo.Action)

	// The earlier entry stays recorded, available for a retry pass.
	assert.Equal(t, StatusRecorded, c.Entries("wf-1")[0].Status)
}

func TestCoordinator_SecondPassSkipsRolledBack(t *testing.T) {
	failures := map[string]error{"delete_file": errors.New("drive unavailable")}
	var calls []undoCall
	c := newTestCoordinator(recordingExecutor(&calls, failures))
	ctx := context.Background()

	c.Record("wf-1", ExecutedAction{
		StepID: "create", Action: "create_document", Target: "docs",
		Result: param.Object{"document_id": param.String("doc-1")},
	})
	c.Record("wf-1", ExecutedAction{
		StepID: "upload", Action: "upload_file", Target: "drive",
		Result: param.Object{"file_id": param.String("f-1")},
	})

	_, err := c.Rollback(ctx, "wf-1", Options{})
	require.NoError(t, err)

	// Drive recovers; the retry pass re-attempts only the failed entry.
	delete(failures, "delete_file")
	calls = calls[:0]

	res, err := c.Rollback(ctx, "wf-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RolledBack)
	require.Len(t, calls, 1)
	assert.Equal(t, "delete_file", calls[0].undo.Action)
}

func TestCoordinator_PartialRollback(t *testing.T) {
	var calls []undoCall
	c := newTestCoordinator(recordingExecutor(&calls, nil))
	ctx := context.Background()

	c.Record("wf-1", ExecutedAction{
		StepID: "create", Action: "create_document", Target: "docs",
		Result: param.Object{"document_id": param.String("doc-1")},
	})
	c.Record("wf-1", ExecutedAction{
		StepID: "upload", Action: "upload_file", Target: "drive",
		Result: param.Object{"file_id": param.String("f-1")},
	})

	res, err := c.PartialRollback(ctx, "wf-1", 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RolledBack)
	require.Len(t, calls, 1)
	assert.Equal(t, "delete_file", calls[0].undo.Action)

	entries := c.Entries("wf-1")
	assert.Equal(t, StatusRecorded, entries[0].Status)
	assert.Equal(t, StatusRolledBack, entries[1].Status)
}

func TestCoordinator_PartialRollbackBounds(t *testing.T) {
	var calls []undoCall
	c := newTestCoordinator(recordingExecutor(&calls, nil))
	ctx := context.Background()

	_, err := c.PartialRollback(ctx, "wf-1", 0, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be > 0")

	c.Record("wf-1", ExecutedAction{
		StepID: "create", Action: "create_document", Target: "docs",
		Result: param.Object{"document_id": param.String("doc-1")},
	})

	// n beyond the ledger clamps to the whole ledger.
	res, err := c.PartialRollback(ctx, "wf-1", 10, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RolledBack)
}

func TestCoordinator_EmptyLedgerIsError(t *testing.T) {
	c := newTestCoordinator(nil)
	_, err := c.Rollback(context.Background(), "never-ran", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recorded actions for execution never-ran")
}

func TestCoordinator_MissingMappingBecomesManual(t *testing.T) {
	var calls []undoCall
	c := newTestCoordinator(recordingExecutor(&calls, nil))
	ctx := context.Background()

	// create_ prefix classifies as reversible, but no undo mapping exists.
	c.Record("wf-1", ExecutedAction{
		StepID: "provision", Action: "create_environment", Target: "infra",
	})

	res, err := c.Rollback(ctx, "wf-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Manual)
	assert.Empty(t, calls)
	assert.Contains(t, res.ManualSteps[0], "no undo mapping")
}

func TestCoordinator_ValidateRollback(t *testing.T) {
	c := newTestCoordinator(nil)

	c.Record("wf-1", ExecutedAction{StepID: "a", Action: "create_document", Target: "docs"})
	c.Record("wf-1", ExecutedAction{StepID: "b", Action: "append_row", Target: "sheets"})
	c.Record("wf-1", ExecutedAction{StepID: "c", Action: "send_notification", Target: "chat"})
	c.Record("wf-1", ExecutedAction{StepID: "d", Action: "delete_draft", Target: "docs"})

	plan, err := c.ValidateRollback("wf-1")
	require.NoError(t, err)
	assert.Equal(t, 4, plan.Total)
	assert.Equal(t, 1, plan.Reversible)
	assert.Equal(t, 1, plan.PartiallyReversible)
	assert.Equal(t, 1, plan.NonReversible)
	assert.Equal(t, 1, plan.ConfirmationRequired)
	assert.Equal(t, 3*DefaultActionTimeout, plan.EstimatedDuration)

	_, err = c.ValidateRollback("unknown")
	require.Error(t, err)
}

func TestCoordinator_Forget(t *testing.T) {
	c := newTestCoordinator(nil)
	c.Record("wf-1", ExecutedAction{StepID: "a", Action: "create_document", Target: "docs"})
	require.Equal(t, 1, c.LedgerSize("wf-1"))

	c.Forget("wf-1")
	assert.Equal(t, 0, c.LedgerSize("wf-1"))
	assert.Empty(t, c.Entries("wf-1"))
}
