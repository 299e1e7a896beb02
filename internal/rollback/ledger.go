package rollback

import (
	"sync"
	"time"

	"github.com/torqueflow/torque/internal/param"
	"github.com/torqueflow/torque/internal/workflow"
)

// Status tracks the rollback outcome of one ledger entry.
type Status string

const (
	StatusRecorded   Status = "recorded"
	StatusRolledBack Status = "rolled_back"
	StatusFailed     Status = "failed"
	StatusManual     Status = "manual"
)

// ExecutedAction is one ledger entry: a successfully executed,
// potentially reversible step of a workflow.
type ExecutedAction struct {
	ActionID   string
	StepID     string
	Action     string
	Target     string
	Params     param.Object
	Result     param.Object
	Class      Class
	Spec       *workflow.RollbackSpec // step-supplied undo, wins over the resolver mapping
	RecordedAt time.Time

	Status Status
	Lossy  bool   // set when a partially_reversible undo succeeded
	Note   string // manual-intervention description, set when Status is manual
}

// ledger holds per-execution append-only entry lists. Two executions
// of the same definition never share entries.
//
// Entries are appended by the engine after each successful step and
// consumed by the coordinator in strict reverse order. The slices hold
// pointers so rollback can mark outcomes in place; each execution's
// entries are owned exclusively by its coordinator.
type ledger struct {
	mu      sync.Mutex
	entries map[string][]*ExecutedAction
}

func newLedger() *ledger {
	return &ledger{entries: make(map[string][]*ExecutedAction)}
}

// append adds an entry to an execution's ledger.
func (l *ledger) append(executionID string, entry *ExecutedAction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[executionID] = append(l.entries[executionID], entry)
}

// forExecution returns the entry pointers for an execution in recording
// order. The returned slice is a copy; the pointed-to entries are not.
func (l *ledger) forExecution(executionID string) []*ExecutedAction {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.entries[executionID]
	out := make([]*ExecutedAction, len(src))
	copy(out, src)
	return out
}

// drop discards an execution's ledger after its audit retention window.
func (l *ledger) drop(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, executionID)
}

// size returns the entry count for an execution.
func (l *ledger) size(executionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[executionID])
}
