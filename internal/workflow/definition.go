package workflow

import "time"

// Definition describes a workflow: an ordered list of dependent steps
// executed as a pseudo-transaction.
//
// Definitions are plain serializable data (JSON or YAML on disk).
// Structural integrity is checked by Validate before execution; the
// engine refuses to run an invalid definition.
type Definition struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	Steps             []Step `json:"steps" yaml:"steps"`
	RollbackOnFailure bool   `json:"rollback_on_failure,omitempty" yaml:"rollback_on_failure,omitempty"`
}

// Step is a single action within a workflow.
//
// Params values may contain "$stepId.field" references which are
// resolved from prior step results at execution time.
type Step struct {
	ID        string         `json:"id" yaml:"id"`
	Action    string         `json:"action" yaml:"action"`
	Target    string         `json:"target" yaml:"target"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Optional  bool           `json:"optional,omitempty" yaml:"optional,omitempty"`

	// MaxRetries overrides the per-target retry policy when non-nil.
	MaxRetries *int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	// TimeoutMS bounds a single dispatch attempt. Zero means the
	// engine default applies.
	TimeoutMS int64 `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`

	// Rollback describes how to undo this step. Steps without a
	// rollback spec fall back to the coordinator's action-type
	// classification.
	Rollback *RollbackSpec `json:"rollback,omitempty" yaml:"rollback,omitempty"`
}

// RollbackSpec names the compensating action for a step.
// Param templates may reference "$result.field" to pull values out of
// the original step's result (e.g. the created document's id).
type RollbackSpec struct {
	Action string            `json:"action" yaml:"action"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Timeout returns the per-attempt timeout, or zero if unset.
func (s Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// StepByID returns the step with the given id, if present.
func (d *Definition) StepByID(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}
