package harness

import (
	"context"
	"sync"

	"github.com/torqueflow/torque/internal/dispatch"
	"github.com/torqueflow/torque/internal/param"
)

// ScriptedDispatcher replays configured outcomes instead of calling
// real platforms. Calls are keyed by "target.action"; each call
// consumes the next outcome for its key, and the last outcome repeats
// once the list is exhausted. Unknown keys succeed with an empty
// result.
type ScriptedDispatcher struct {
	mu       sync.Mutex
	outcomes map[string][]Outcome
	calls    map[string]int
	result   *Result
}

// NewScriptedDispatcher builds a dispatcher from scenario behaviors,
// recording every call into the result's trace.
func NewScriptedDispatcher(behaviors map[string][]Outcome, result *Result) *ScriptedDispatcher {
	return &ScriptedDispatcher{
		outcomes: behaviors,
		calls:    make(map[string]int),
		result:   result,
	}
}

// Execute implements dispatch.Dispatcher.
func (d *ScriptedDispatcher) Execute(ctx context.Context, action, target string, params param.Object) (param.Object, error) {
	return d.execute(ctx, "dispatch", action, target, params)
}

// ExecuteUndo replays outcomes for compensating actions. Identical to
// Execute except the trace event kind.
func (d *ScriptedDispatcher) ExecuteUndo(ctx context.Context, action, target string, params param.Object) (param.Object, error) {
	return d.execute(ctx, "undo", action, target, params)
}

// Calls returns the number of calls made for "target.action",
// dispatch and undo combined.
func (d *ScriptedDispatcher) Calls(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[key]
}

func (d *ScriptedDispatcher) execute(ctx context.Context, kind, action, target string, params param.Object) (param.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := target + "." + action

	d.mu.Lock()
	d.calls[key]++
	attempt := d.calls[key]
	outcome := d.outcomeLocked(key, attempt)
	d.mu.Unlock()

	ev := TraceEvent{
		Kind:    kind,
		Action:  action,
		Target:  target,
		Attempt: attempt,
	}

	if outcome.Error != nil {
		derr := &dispatch.Error{
			Status:     outcome.Error.Status,
			Code:       outcome.Error.Code,
			Message:    outcome.Error.Message,
			Retryable:  outcome.Error.Retryable,
			RetryAfter: outcome.Error.RetryAfter,
		}
		ev.Outcome = "error"
		ev.Error = derr.Error()
		d.record(ev)
		return nil, derr
	}

	obj, err := param.ObjectFromAny(outcome.Result)
	if err != nil {
		ev.Outcome = "error"
		ev.Error = err.Error()
		d.record(ev)
		return nil, err
	}
	if obj == nil {
		obj = param.Object{}
	}

	ev.Outcome = "success"
	d.record(ev)
	return obj, nil
}

// outcomeLocked picks the outcome for the attempt-th call of key.
func (d *ScriptedDispatcher) outcomeLocked(key string, attempt int) Outcome {
	list := d.outcomes[key]
	if len(list) == 0 {
		return Outcome{}
	}
	if attempt > len(list) {
		return list[len(list)-1]
	}
	return list[attempt-1]
}

func (d *ScriptedDispatcher) record(ev TraceEvent) {
	if d.result == nil {
		return
	}
	d.mu.Lock()
	d.result.addTrace(ev)
	d.mu.Unlock()
}
