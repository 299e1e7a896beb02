// Package rollback implements best-effort compensation for partially
// failed workflows: an append-only ledger of executed actions, a
// reversibility classification, and a coordinator that undoes ledger
// entries in strict reverse order.
//
// Compensation is not a transaction. An undo is itself a remote call
// that can fail; failures are recorded, never thrown, and surface as
// manual-intervention work for a human.
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/torqueflow/torque/internal/param"
	"github.com/torqueflow/torque/internal/retry"
)

// DefaultActionTimeout bounds a single undo dispatch.
const DefaultActionTimeout = 30 * time.Second

// Options control one rollback pass.
type Options struct {
	// StopOnFailure aborts the remaining pass when an undo fails.
	// Default false: continue best-effort through the rest of the
	// ledger.
	StopOnFailure bool

	// RequireConfirmation gates confirmation_required entries. When
	// true (the safe mode), such entries become manual-intervention
	// items unless their ActionID appears in Confirmed.
	RequireConfirmation bool

	// Confirmed holds prior explicit confirmations by ActionID.
	Confirmed map[string]bool
}

// Result summarizes a rollback pass.
type Result struct {
	ExecutionID string   `json:"execution_id"`
	RolledBack  int      `json:"rolled_back"`
	Lossy       int      `json:"lossy"`
	Failed      int      `json:"failed"`
	Manual      int      `json:"manual"`
	ManualSteps []string `json:"manual_steps,omitempty"`
}

// Plan is the dry-run report from ValidateRollback.
type Plan struct {
	ExecutionID          string        `json:"execution_id"`
	Total                int           `json:"total"`
	Reversible           int           `json:"reversible"`
	PartiallyReversible  int           `json:"partially_reversible"`
	NonReversible        int           `json:"non_reversible"`
	ConfirmationRequired int           `json:"confirmation_required"`
	EstimatedDuration    time.Duration `json:"estimated_duration"`
}

// Executor dispatches a single undo call. Satisfied by a closure over
// the retry engine and the action dispatcher; injected so the
// coordinator stays free of transport concerns.
type Executor func(ctx context.Context, call retry.Call, undo UndoAction) (param.Object, error)

// Coordinator owns the ledger and runs compensation passes.
type Coordinator struct {
	ledger        *ledger
	classifier    *Classifier
	resolver      UndoResolver
	execute       Executor
	actionTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithActionTimeout bounds each undo dispatch.
func WithActionTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.actionTimeout = d }
}

// WithClassifier overrides the default reversibility table.
func WithClassifier(cl *Classifier) CoordinatorOption {
	return func(c *Coordinator) { c.classifier = cl }
}

// WithNow injects the time source for RecordedAt stamps.
func WithNow(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a rollback coordinator.
// The resolver is configuration from the dispatcher collaborator; the
// executor is how undos reach the wire (normally through the retry
// engine).
func NewCoordinator(resolver UndoResolver, execute Executor, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		ledger:        newLedger(),
		classifier:    NewClassifier(),
		resolver:      resolver,
		execute:       execute,
		actionTimeout: DefaultActionTimeout,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record appends a successfully executed step to an execution's ledger
// and returns the entry as stored, with ActionID, Class, RecordedAt,
// and Status filled in. Called by the engine immediately after the step
// succeeds; audit sinks must persist the returned entry, not the one
// they passed in. The class is derived from the action type unless the
// caller set one.
func (c *Coordinator) Record(executionID string, entry ExecutedAction) ExecutedAction {
	if entry.ActionID == "" {
		entry.ActionID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.Class == "" {
		entry.Class = c.classifier.Classify(entry.Action)
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = c.now()
	}
	entry.Status = StatusRecorded

	c.ledger.append(executionID, &entry)
	c.logger.Debug("action recorded",
		"execution_id", executionID,
		"action_id", entry.ActionID,
		"action", entry.Action,
		"target", entry.Target,
		"class", string(entry.Class),
	)
	return entry
}

// LedgerSize returns the number of recorded actions for an execution.
func (c *Coordinator) LedgerSize(executionID string) int {
	return c.ledger.size(executionID)
}

// Entries returns copies of an execution's ledger entries in recording
// order, for inspection and audit.
func (c *Coordinator) Entries(executionID string) []ExecutedAction {
	ptrs := c.ledger.forExecution(executionID)
	out := make([]ExecutedAction, len(ptrs))
	for i, p := range ptrs {
		out[i] = *p
	}
	return out
}

// Forget discards an execution's ledger once its audit retention window
// has passed. Terminal executions should be forgotten to bound memory.
func (c *Coordinator) Forget(executionID string) {
	c.ledger.drop(executionID)
}

// Rollback undoes every recorded action of an execution in strict
// reverse order. Only ledger entries are processed, and entries
// already rolled back are never re-entered.
//
// Rollback never returns an error for failed undos; failures are
// counted in the Result. The only error is an empty ledger, which
// indicates a caller bug (rolling back an execution that never ran).
func (c *Coordinator) Rollback(ctx context.Context, executionID string, opts Options) (*Result, error) {
	entries := c.ledger.forExecution(executionID)
	if len(entries) == 0 {
		return nil, fmt.Errorf("no recorded actions for execution %s", executionID)
	}
	return c.rollbackEntries(ctx, executionID, entries, opts), nil
}

// PartialRollback undoes only the last n recorded actions, leaving
// earlier entries untouched. Used when only the tail of an execution
// needs undoing.
func (c *Coordinator) PartialRollback(ctx context.Context, executionID string, n int, opts Options) (*Result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("partial rollback count must be > 0, got %d", n)
	}
	entries := c.ledger.forExecution(executionID)
	if len(entries) == 0 {
		return nil, fmt.Errorf("no recorded actions for execution %s", executionID)
	}
	if n > len(entries) {
		n = len(entries)
	}
	tail := entries[len(entries)-n:]
	return c.rollbackEntries(ctx, executionID, tail, opts), nil
}

// rollbackEntries is the shared pass: iterate in reverse, dispatch
// undos, mark outcomes in place.
func (c *Coordinator) rollbackEntries(ctx context.Context, executionID string, entries []*ExecutedAction, opts Options) *Result {
	res := &Result{ExecutionID: executionID}

	c.logger.Info("rollback started",
		"execution_id", executionID,
		"entries", len(entries),
		"stop_on_failure", opts.StopOnFailure,
	)

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]

		if entry.Status == StatusRolledBack {
			continue
		}

		switch entry.Class {
		case ClassNonReversible:
			c.markManual(entry, res, fmt.Sprintf(
				"%s on %s (step %s) cannot be undone automatically; verify whether %q needs follow-up and inform recipients if necessary",
				entry.Action, entry.Target, entry.StepID, entry.Action,
			))

		case ClassConfirmationRequired:
			if opts.RequireConfirmation && !opts.Confirmed[entry.ActionID] {
				c.markManual(entry, res, fmt.Sprintf(
					"undoing %s on %s (step %s) is destructive and was not confirmed; confirm action %s and rerun rollback",
					entry.Action, entry.Target, entry.StepID, entry.ActionID,
				))
				continue
			}
			if stop := c.undo(ctx, entry, res, opts); stop {
				return res
			}

		case ClassReversible, ClassPartiallyReversible:
			if stop := c.undo(ctx, entry, res, opts); stop {
				return res
			}

		default:
			c.markManual(entry, res, fmt.Sprintf(
				"%s on %s has unknown reversibility class %q; review manually",
				entry.Action, entry.Target, entry.Class,
			))
		}
	}

	c.logger.Info("rollback completed",
		"execution_id", executionID,
		"rolled_back", res.RolledBack,
		"failed", res.Failed,
		"manual", res.Manual,
	)
	return res
}

// undo resolves and dispatches the compensating action for one entry.
// Returns true when a failure should stop the remaining pass.
func (c *Coordinator) undo(ctx context.Context, entry *ExecutedAction, res *Result, opts Options) bool {
	undoAction, ok := c.resolveUndo(entry)
	if !ok {
		c.markManual(entry, res, fmt.Sprintf(
			"no undo mapping for %s on %s (step %s); compensate manually",
			entry.Action, entry.Target, entry.StepID,
		))
		return false
	}

	call := retry.Call{
		Platform:       entry.Target,
		Operation:      "undo:" + entry.Action,
		AttemptTimeout: c.actionTimeout,
	}

	_, err := c.execute(ctx, call, undoAction)
	if err != nil {
		// A RollbackFailure is recorded, never thrown.
		entry.Status = StatusFailed
		res.Failed++
		c.logger.Error("undo failed",
			"action_id", entry.ActionID,
			"action", entry.Action,
			"undo_action", undoAction.Action,
			"target", entry.Target,
			"error", err,
		)
		return opts.StopOnFailure
	}

	entry.Status = StatusRolledBack
	res.RolledBack++
	if entry.Class == ClassPartiallyReversible {
		entry.Lossy = true
		res.Lossy++
	}
	c.logger.Info("action rolled back",
		"action_id", entry.ActionID,
		"action", entry.Action,
		"undo_action", undoAction.Action,
		"target", entry.Target,
		"lossy", entry.Lossy,
	)
	return false
}

// resolveUndo picks the undo source: step spec first, then the
// injected mapping.
func (c *Coordinator) resolveUndo(entry *ExecutedAction) (UndoAction, bool) {
	if entry.Spec != nil {
		undo, err := resolveSpec(entry)
		if err != nil {
			c.logger.Warn("rollback spec resolution failed",
				"action_id", entry.ActionID,
				"error", err,
			)
			return UndoAction{}, false
		}
		return undo, true
	}
	if c.resolver == nil {
		return UndoAction{}, false
	}
	return c.resolver.Resolve(entry)
}

func (c *Coordinator) markManual(entry *ExecutedAction, res *Result, note string) {
	entry.Status = StatusManual
	entry.Note = note
	res.Manual++
	res.ManualSteps = append(res.ManualSteps, note)
	c.logger.Warn("manual intervention required",
		"action_id", entry.ActionID,
		"action", entry.Action,
		"target", entry.Target,
		"note", note,
	)
}

// ValidateRollback is a dry-run pass: it classifies an execution's
// ledger without dispatching anything, so callers can decide whether a
// real rollback is worth committing to.
func (c *Coordinator) ValidateRollback(executionID string) (*Plan, error) {
	entries := c.ledger.forExecution(executionID)
	if len(entries) == 0 {
		return nil, fmt.Errorf("no recorded actions for execution %s", executionID)
	}

	plan := &Plan{ExecutionID: executionID, Total: len(entries)}
	for _, entry := range entries {
		switch entry.Class {
		case ClassReversible:
			plan.Reversible++
		case ClassPartiallyReversible:
			plan.PartiallyReversible++
		case ClassConfirmationRequired:
			plan.ConfirmationRequired++
		default:
			plan.NonReversible++
		}
	}
	// Crude estimate: one timeout budget per dispatched undo.
	dispatched := plan.Reversible + plan.PartiallyReversible + plan.ConfirmationRequired
	plan.EstimatedDuration = time.Duration(dispatched) * c.actionTimeout
	return plan, nil
}
