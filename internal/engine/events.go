package engine

// EventType identifies an engine lifecycle event.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	EventStepBlocked       EventType = "step_blocked"
	EventRollbackStarted   EventType = "rollback_started"
	EventRollbackCompleted EventType = "rollback_completed"
)

// Progress is the running step tally exposed after every step.
type Progress struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Event is one lifecycle notification. Events exist for external
// consumers (logging, dashboards, approval queues); the engine never
// reads its own events back.
type Event struct {
	Type        EventType `json:"type"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
	StepID      string    `json:"step_id,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
	Error       string    `json:"error,omitempty"`
	Progress    Progress  `json:"progress"`
}

// Observer receives engine events. Implementations must be fast or
// hand off internally; the engine emits synchronously between steps.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// nopObserver drops all events.
type nopObserver struct{}

func (nopObserver) OnEvent(Event) {}
