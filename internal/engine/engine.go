// Package engine orchestrates workflow execution: ordered, dependent
// steps run as a pseudo-transaction, each dispatched through the
// idempotency gate and the retry engine, with successful steps
// recorded for compensation.
//
// Execute never returns an error for business failures. Every outcome,
// including rollback results and manual-intervention needs, is encoded
// in the returned Result; the only error is an invalid definition,
// reported before any remote call is attempted.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/torqueflow/torque/internal/dispatch"
	"github.com/torqueflow/torque/internal/idempotency"
	"github.com/torqueflow/torque/internal/param"
	"github.com/torqueflow/torque/internal/retry"
	"github.com/torqueflow/torque/internal/rollback"
	"github.com/torqueflow/torque/internal/workflow"
)

// Status is the lifecycle state of one workflow execution.
// State machine: pending -> running -> {completed | failed | rolled_back}.
// Terminal states are final.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// StepStatus is the outcome of one step within an execution.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	// StepBlocked means a dependency had no completed result, so the
	// step was skipped without dispatching.
	StepBlocked StepStatus = "blocked"
)

// StepResult records one step's outcome.
type StepResult struct {
	StepID string       `json:"step_id"`
	Status StepStatus   `json:"status"`
	Result param.Object `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
	// Cached means the idempotency gate returned a prior result and
	// the dispatcher was never invoked for this step.
	Cached bool `json:"cached,omitempty"`
}

// ExecutionRecord is the in-flight state of one workflow execution.
// Created at Execute entry, discarded (or persisted by an external
// collaborator) once the status is terminal.
type ExecutionRecord struct {
	WorkflowID  string
	ExecutionID string
	Status      Status
	TotalSteps  int
	StepResults map[string]*StepResult
	Results     map[string]param.Object // step id -> result, the $ref source
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Result is what Execute hands back. Callers inspect Success, Error,
// RollbackPerformed, and ManualSteps without any error unwrapping for
// the common path.
type Result struct {
	WorkflowID        string                `json:"workflow_id"`
	ExecutionID       string                `json:"execution_id"`
	Status            Status                `json:"status"`
	Success           bool                  `json:"success"`
	Error             string                `json:"error,omitempty"`
	FailedStepID      string                `json:"failed_step_id,omitempty"`
	StepResults       map[string]StepResult `json:"step_results"`
	Progress          Progress              `json:"progress"`
	RollbackPerformed bool                  `json:"rollback_performed,omitempty"`
	Rollback          *rollback.Result      `json:"rollback,omitempty"`
	ManualSteps       []string              `json:"manual_steps,omitempty"`
	StartedAt         time.Time             `json:"started_at"`
	FinishedAt        time.Time             `json:"finished_at"`
}

// Input carries the trigger for one execution: the external signal's
// id (the idempotency scope) and the initial context addressable as
// "$input.field" in step parameters.
type Input struct {
	SignalID string
	Context  param.Object
}

// Auditor persists executed actions beyond the in-memory ledger.
// Optional; the sqlite store provides one.
type Auditor interface {
	AppendAction(ctx context.Context, executionID string, entry rollback.ExecutedAction) error
}

// DefaultStepTimeout bounds a dispatch attempt when the step does not
// declare its own timeout.
const DefaultStepTimeout = 30 * time.Second

// Engine is the workflow orchestrator. One Engine serves many
// concurrent Execute calls; per-execution state lives on the call
// stack, while the gate store and retry counters are the shared,
// mutex-guarded pieces underneath.
type Engine struct {
	dispatcher  dispatch.Dispatcher
	gate        *idempotency.Gate
	retry       *retry.Engine
	coordinator *rollback.Coordinator
	idGen       IDGenerator
	observer    Observer
	auditor     Auditor
	logger      *slog.Logger
	now         func() time.Time
	stepTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver registers the event consumer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithIDGenerator injects the execution id source.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.idGen = g }
}

// WithAuditor registers the executed-action audit sink.
func WithAuditor(a Auditor) EngineOption {
	return func(e *Engine) { e.auditor = a }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithNow injects the time source.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithStepTimeout sets the default per-attempt timeout for steps that
// do not declare one.
func WithStepTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.stepTimeout = d }
}

// New creates a workflow engine over its collaborators. The dispatcher
// is the only one that touches the network directly.
func New(
	dispatcher dispatch.Dispatcher,
	gate *idempotency.Gate,
	retryEngine *retry.Engine,
	coordinator *rollback.Coordinator,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		dispatcher:  dispatcher,
		gate:        gate,
		retry:       retryEngine,
		coordinator: coordinator,
		idGen:       UUIDv7Generator{},
		observer:    nopObserver{},
		logger:      slog.Default(),
		now:         time.Now,
		stepTimeout: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a workflow definition to a terminal state.
//
// Steps execute strictly in declared order. Before each step the
// engine checks that every depends_on id has a completed result (else
// the step is blocked), substitutes "$stepId.field" references, and
// dispatches through the idempotency gate and the retry engine. A
// failed non-optional step stops the run and, if the definition asks
// for it, triggers rollback of the recorded steps in reverse order.
//
// The returned error is non-nil only for an invalid definition
// (*workflow.InvalidDefinitionError), detected before any remote call.
func (e *Engine) Execute(ctx context.Context, def *workflow.Definition, input Input) (*Result, error) {
	if verrs := workflow.Validate(def); len(verrs) > 0 {
		return nil, &workflow.InvalidDefinitionError{WorkflowID: def.ID, Errors: verrs}
	}

	rec := &ExecutionRecord{
		WorkflowID:  def.ID,
		ExecutionID: e.idGen.Generate(),
		Status:      StatusRunning,
		TotalSteps:  len(def.Steps),
		StepResults: make(map[string]*StepResult, len(def.Steps)),
		Results:     make(map[string]param.Object, len(def.Steps)+1),
		StartedAt:   e.now(),
	}
	if input.Context != nil {
		rec.Results[InputContextKey] = input.Context
	}

	e.logger.Info("workflow started",
		"workflow_id", def.ID,
		"execution_id", rec.ExecutionID,
		"signal_id", input.SignalID,
		"steps", len(def.Steps),
	)
	e.emit(rec, Event{Type: EventWorkflowStarted})

	var (
		fatalStep string
		fatalErr  error
	)

	for _, step := range def.Steps {
		if blockedBy := e.blockedBy(step, rec); blockedBy != "" {
			rec.StepResults[step.ID] = &StepResult{
				StepID: step.ID,
				Status: StepBlocked,
				Error:  fmt.Sprintf("dependency %q has no completed result", blockedBy),
			}
			e.logger.Warn("step blocked",
				"workflow_id", def.ID,
				"step_id", step.ID,
				"dependency", blockedBy,
			)
			e.emit(rec, Event{Type: EventStepBlocked, StepID: step.ID})
			continue
		}

		e.emit(rec, Event{Type: EventStepStarted, StepID: step.ID})

		result, cached, err := e.runStep(ctx, def, rec, step, input)
		if err == nil {
			rec.StepResults[step.ID] = &StepResult{
				StepID: step.ID,
				Status: StepCompleted,
				Result: result,
				Cached: cached,
			}
			rec.Results[step.ID] = result
			e.emit(rec, Event{Type: EventStepCompleted, StepID: step.ID, Cached: cached})
			continue
		}

		stepErr := &StepError{WorkflowID: def.ID, StepID: step.ID, Err: err}
		rec.StepResults[step.ID] = &StepResult{
			StepID: step.ID,
			Status: StepFailed,
			Error:  stepErr.Error(),
		}
		e.emit(rec, Event{Type: EventStepFailed, StepID: step.ID, Error: err.Error()})

		if step.Optional {
			e.logger.Warn("optional step failed, continuing",
				"workflow_id", def.ID,
				"step_id", step.ID,
				"error", err,
			)
			continue
		}

		fatalStep, fatalErr = step.ID, stepErr
		break
	}

	res := e.finalize(ctx, def, rec, fatalStep, fatalErr)
	return res, nil
}

// blockedBy returns the first dependency without a completed result,
// or "" when the step may run.
func (e *Engine) blockedBy(step workflow.Step, rec *ExecutionRecord) string {
	for _, dep := range step.DependsOn {
		sr, ok := rec.StepResults[dep]
		if !ok || sr.Status != StepCompleted {
			return dep
		}
	}
	return ""
}

// runStep resolves parameters and dispatches one step through the
// idempotency gate and the retry engine. Fresh (non-cached) successes
// are recorded with the rollback coordinator.
func (e *Engine) runStep(
	ctx context.Context,
	def *workflow.Definition,
	rec *ExecutionRecord,
	step workflow.Step,
	input Input,
) (param.Object, bool, error) {
	params, err := resolveParams(step.Params, rec.Results)
	if err != nil {
		return nil, false, fmt.Errorf("resolve params: %w", err)
	}

	timeout := step.Timeout()
	if timeout <= 0 {
		timeout = e.stepTimeout
	}
	call := retry.Call{
		Platform:       step.Target,
		Operation:      step.Action,
		MaxRetries:     step.MaxRetries,
		AttemptTimeout: timeout,
	}

	req := idempotency.Request{
		SignalID: input.SignalID,
		Action:   step.Action,
		Target:   step.Target,
		Params:   params,
	}

	result, cached, err := e.gate.Execute(ctx, req, func(ctx context.Context) (param.Object, error) {
		return e.retry.Do(ctx, call, func(ctx context.Context) (param.Object, error) {
			return e.dispatcher.Execute(ctx, step.Action, step.Target, params)
		})
	})
	if err != nil {
		return nil, false, err
	}

	// Cached results were executed (and recorded) by an earlier
	// delivery of the same signal; recording them again would make
	// rollback undo an action this execution never performed.
	if !cached {
		entry := e.coordinator.Record(rec.ExecutionID, rollback.ExecutedAction{
			StepID: step.ID,
			Action: step.Action,
			Target: step.Target,
			Params: params,
			Result: result,
			Spec:   step.Rollback,
		})
		if e.auditor != nil {
			if aerr := e.auditor.AppendAction(ctx, rec.ExecutionID, entry); aerr != nil {
				e.logger.Warn("audit append failed",
					"workflow_id", def.ID,
					"step_id", step.ID,
					"error", aerr,
				)
			}
		}
	}

	return result, cached, nil
}

// finalize runs rollback when required and builds the Result.
func (e *Engine) finalize(ctx context.Context, def *workflow.Definition, rec *ExecutionRecord, fatalStep string, fatalErr error) *Result {
	res := &Result{
		WorkflowID:  def.ID,
		ExecutionID: rec.ExecutionID,
		StepResults: make(map[string]StepResult, len(rec.StepResults)),
		StartedAt:   rec.StartedAt,
	}
	for id, sr := range rec.StepResults {
		res.StepResults[id] = *sr
	}
	res.Progress = e.progress(rec)

	switch {
	case fatalErr == nil:
		rec.Status = StatusCompleted
		res.Success = true

	case def.RollbackOnFailure && e.coordinator.LedgerSize(rec.ExecutionID) > 0:
		e.emit(rec, Event{Type: EventRollbackStarted, StepID: fatalStep})
		rbRes, rbErr := e.coordinator.Rollback(ctx, rec.ExecutionID, rollback.Options{RequireConfirmation: true})
		if rbErr != nil {
			rec.Status = StatusFailed
			e.logger.Error("rollback could not run",
				"workflow_id", def.ID,
				"error", rbErr,
			)
			e.emit(rec, Event{Type: EventRollbackCompleted, Error: rbErr.Error()})
		} else {
			rec.Status = StatusRolledBack
			res.RollbackPerformed = true
			res.Rollback = rbRes
			res.ManualSteps = rbRes.ManualSteps
			e.emit(rec, Event{Type: EventRollbackCompleted})
		}
		res.Error = fatalErr.Error()
		res.FailedStepID = fatalStep

	default:
		rec.Status = StatusFailed
		res.Error = fatalErr.Error()
		res.FailedStepID = fatalStep
	}

	rec.FinishedAt = e.now()
	res.Status = rec.Status
	res.FinishedAt = rec.FinishedAt

	if res.Success {
		e.logger.Info("workflow completed",
			"workflow_id", def.ID,
			"execution_id", rec.ExecutionID,
			"completed", res.Progress.Completed,
			"total", res.Progress.Total,
		)
		e.emit(rec, Event{Type: EventWorkflowCompleted})
	} else {
		e.logger.Error("workflow failed",
			"workflow_id", def.ID,
			"execution_id", rec.ExecutionID,
			"status", string(rec.Status),
			"failed_step", res.FailedStepID,
			"error", res.Error,
		)
		e.emit(rec, Event{Type: EventWorkflowFailed, StepID: res.FailedStepID, Error: res.Error})
	}

	return res
}

// progress tallies recorded step outcomes against the definition's
// full step count, so Total is stable from the first event onward. The
// input pseudo-entry in Results never appears in StepResults, so it is
// not counted.
func (e *Engine) progress(rec *ExecutionRecord) Progress {
	p := Progress{Total: rec.TotalSteps}
	for _, sr := range rec.StepResults {
		switch sr.Status {
		case StepCompleted:
			p.Completed++
		case StepFailed:
			p.Failed++
		}
	}
	return p
}

func (e *Engine) emit(rec *ExecutionRecord, ev Event) {
	ev.WorkflowID = rec.WorkflowID
	ev.ExecutionID = rec.ExecutionID
	ev.Progress = e.progress(rec)
	e.observer.OnEvent(ev)
}
