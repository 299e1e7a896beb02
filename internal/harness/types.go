package harness

// TraceEvent is one observable moment of a scenario run: an engine
// lifecycle event, a dispatched action call, or an undo call issued
// during rollback.
type TraceEvent struct {
	// Kind is "event", "dispatch" or "undo".
	Kind string `json:"kind"`

	// Event carries the engine event type for kind "event"
	// (workflow_started, step_completed, rollback_started, ...).
	Event string `json:"event,omitempty"`

	StepID string `json:"step_id,omitempty"`
	Action string `json:"action,omitempty"`
	Target string `json:"target,omitempty"`

	// Attempt is the 1-based call count for this target.action pair,
	// counting retries. Zero for engine events.
	Attempt int `json:"attempt,omitempty"`

	// Outcome is "success" or "error" for dispatch and undo events.
	Outcome string `json:"outcome,omitempty"`

	Cached bool   `json:"cached,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause matched.
	Pass bool `json:"pass"`

	// Status is the terminal workflow status (completed, failed,
	// rolled_back).
	Status string `json:"status"`

	FailedStep  string   `json:"failed_step,omitempty"`
	RolledBack  bool     `json:"rolled_back,omitempty"`
	ManualSteps []string `json:"manual_steps,omitempty"`

	// Trace contains engine events and action calls in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expect-clause mismatches. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a mismatch and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
