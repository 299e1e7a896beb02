// Package harness provides a conformance testing framework for the
// workflow engine.
//
// A scenario is a YAML document pairing a workflow definition with a
// scripted dispatcher: each "target.action" key lists the outcomes its
// calls will produce, in order. The harness wires the real engine
// stack (idempotency gate, retry engine, rollback coordinator) over
// the scripted dispatcher with deterministic helpers: a manual clock
// that advances instead of sleeping, a fixed execution id generator,
// and a seeded jitter source. The same scenario therefore produces the
// same trace on every run, which makes golden file comparison viable.
//
// Scenarios assert two ways: expect clauses (terminal status, per-step
// statuses, call counts) evaluated by EvaluateExpect, and golden trace
// files compared by RunWithGolden.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/torqueflow/torque/internal/engine"
	"github.com/torqueflow/torque/internal/idempotency"
	"github.com/torqueflow/torque/internal/param"
	"github.com/torqueflow/torque/internal/retry"
	"github.com/torqueflow/torque/internal/rollback"
	"github.com/torqueflow/torque/internal/testutil"
)

// scenarioEpoch is the fixed start time for every scenario run.
var scenarioEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh stack for isolation: its own
// in-memory idempotency store, retry engine, and rollback ledger.
//
// Execution flow:
//  1. Build the scripted dispatcher from the behaviors map
//  2. Assemble the engine stack with deterministic helpers
//  3. Execute the workflow definition
//  4. Evaluate expect clauses against the terminal result
func Run(scenario *Scenario) (*Result, error) {
	result := NewResult()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	clock := testutil.NewManualClock(scenarioEpoch)
	disp := NewScriptedDispatcher(scenario.Behaviors, result)

	retryEng := retry.NewEngine(retry.DefaultPolicy,
		retry.WithClock(clock),
		retry.WithRandSource(rand.NewPCG(1, 2)),
		retry.WithLogger(logger),
	)

	store := idempotency.NewMemoryStore(idempotency.WithStoreLogger(logger))
	defer store.Close()
	gate := idempotency.NewGate(store,
		idempotency.WithNow(clock.Now),
		idempotency.WithGateLogger(logger),
	)

	resolver := rollback.NewMappingResolver(rollback.DefaultMappings())
	undoExec := func(ctx context.Context, call retry.Call, undo rollback.UndoAction) (param.Object, error) {
		return retryEng.Do(ctx, call, func(ctx context.Context) (param.Object, error) {
			return disp.ExecuteUndo(ctx, undo.Action, undo.Target, undo.Params)
		})
	}
	coordinator := rollback.NewCoordinator(resolver, undoExec,
		rollback.WithNow(clock.Now),
		rollback.WithLogger(logger),
	)

	eng := engine.New(disp, gate, retryEng, coordinator,
		engine.WithIDGenerator(engine.NewFixedGenerator("exec-"+scenario.Name)),
		engine.WithNow(clock.Now),
		engine.WithLogger(logger),
		engine.WithObserver(engine.ObserverFunc(func(ev engine.Event) {
			result.addTrace(TraceEvent{
				Kind:   "event",
				Event:  string(ev.Type),
				StepID: ev.StepID,
				Cached: ev.Cached,
				Error:  ev.Error,
			})
		})),
	)

	signalID := scenario.SignalID
	if signalID == "" {
		signalID = "signal-" + scenario.Name
	}
	var inputCtx param.Object
	if scenario.Context != nil {
		obj, err := param.ObjectFromAny(scenario.Context)
		if err != nil {
			return nil, fmt.Errorf("scenario context: %w", err)
		}
		inputCtx = obj
	}

	res, err := eng.Execute(context.Background(), &scenario.Workflow, engine.Input{
		SignalID: signalID,
		Context:  inputCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("execute workflow: %w", err)
	}

	result.Status = string(res.Status)
	result.FailedStep = res.FailedStepID
	result.RolledBack = res.RollbackPerformed
	result.ManualSteps = res.ManualSteps

	for _, msg := range EvaluateExpect(res, disp, scenario.Expect) {
		result.AddError(msg)
	}

	return result, nil
}

// EvaluateExpect checks the expect clause against the terminal result
// and the dispatcher's call counts. Returns one message per mismatch.
func EvaluateExpect(res *engine.Result, disp *ScriptedDispatcher, exp *Expect) []string {
	if exp == nil {
		return nil
	}

	var errs []string

	if exp.Status != "" && string(res.Status) != exp.Status {
		errs = append(errs, fmt.Sprintf("status: expected %q, got %q", exp.Status, res.Status))
	}
	if exp.FailedStep != "" && res.FailedStepID != exp.FailedStep {
		errs = append(errs, fmt.Sprintf("failed_step: expected %q, got %q", exp.FailedStep, res.FailedStepID))
	}
	if exp.RolledBack != nil && res.RollbackPerformed != *exp.RolledBack {
		errs = append(errs, fmt.Sprintf("rolled_back: expected %v, got %v", *exp.RolledBack, res.RollbackPerformed))
	}
	if exp.ManualCount != nil && len(res.ManualSteps) != *exp.ManualCount {
		errs = append(errs, fmt.Sprintf("manual_count: expected %d, got %d", *exp.ManualCount, len(res.ManualSteps)))
	}

	for _, stepID := range sortedKeys(exp.Steps) {
		want := exp.Steps[stepID]
		sr, ok := res.StepResults[stepID]
		if !ok {
			errs = append(errs, fmt.Sprintf("steps[%s]: expected status %q, step never ran", stepID, want))
			continue
		}
		if string(sr.Status) != want {
			errs = append(errs, fmt.Sprintf("steps[%s]: expected status %q, got %q", stepID, want, sr.Status))
		}
	}

	for _, key := range sortedKeys(exp.Calls) {
		want := exp.Calls[key]
		if got := disp.Calls(key); got != want {
			errs = append(errs, fmt.Sprintf("calls[%s]: expected %d, got %d", key, want, got))
		}
	}

	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
