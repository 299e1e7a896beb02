package workflow

import (
	"fmt"
	"strings"
)

// ValidationError describes one structural problem in a definition.
// Messages are human-readable; callers surface them in full rather than
// stopping at the first.
type ValidationError struct {
	StepID  string `json:"step_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	switch {
	case e.StepID != "" && e.Field != "":
		return fmt.Sprintf("step %s: %s: %s", e.StepID, e.Field, e.Message)
	case e.StepID != "":
		return fmt.Sprintf("step %s: %s", e.StepID, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	default:
		return e.Message
	}
}

// InvalidDefinitionError aggregates all validation errors for a
// definition. Returned by the engine when asked to run an invalid
// workflow - the only error class that surfaces before any remote call.
type InvalidDefinitionError struct {
	WorkflowID string
	Errors     []ValidationError
}

// Error implements the error interface.
func (e *InvalidDefinitionError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("invalid workflow %s: %s", e.WorkflowID, strings.Join(msgs, "; "))
}

// Validate checks a definition's structural integrity:
//   - workflow id and name are present
//   - at least one step
//   - step ids are non-empty and unique within the workflow
//   - every step names an action and a target
//   - depends_on references resolve to existing steps
//   - the dependency graph has no cycles
//   - rollback specs name an action
//
// Returns all problems found, not just the first. An empty slice means
// the definition is runnable.
func Validate(def *Definition) []ValidationError {
	var errs []ValidationError

	if def.ID == "" {
		errs = append(errs, ValidationError{Field: "id", Message: "workflow id is required"})
	}
	if def.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "workflow name is required"})
	}
	if len(def.Steps) == 0 {
		errs = append(errs, ValidationError{Field: "steps", Message: "workflow has no steps"})
	}

	seen := make(map[string]bool, len(def.Steps))
	for _, s := range def.Steps {
		if s.ID == "" {
			errs = append(errs, ValidationError{Field: "id", Message: "step id is required"})
			continue
		}
		if seen[s.ID] {
			errs = append(errs, ValidationError{StepID: s.ID, Message: "duplicate step id"})
		}
		seen[s.ID] = true

		if s.Action == "" {
			errs = append(errs, ValidationError{StepID: s.ID, Field: "action", Message: "action is required"})
		}
		if s.Target == "" {
			errs = append(errs, ValidationError{StepID: s.ID, Field: "target", Message: "target is required"})
		}
		if s.MaxRetries != nil && *s.MaxRetries < 0 {
			errs = append(errs, ValidationError{StepID: s.ID, Field: "max_retries", Message: "must be >= 0"})
		}
		if s.Rollback != nil && s.Rollback.Action == "" {
			errs = append(errs, ValidationError{StepID: s.ID, Field: "rollback.action", Message: "rollback action is required"})
		}
	}

	// Dependency resolution, only meaningful for steps with valid ids.
	for _, s := range def.Steps {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				errs = append(errs, ValidationError{StepID: s.ID, Field: "depends_on", Message: "step depends on itself"})
				continue
			}
			if !seen[dep] {
				errs = append(errs, ValidationError{
					StepID:  s.ID,
					Field:   "depends_on",
					Message: fmt.Sprintf("unknown dependency %q", dep),
				})
			}
		}
	}

	if cycle := findCycle(def.Steps); cycle != "" {
		errs = append(errs, ValidationError{
			Field:   "depends_on",
			Message: fmt.Sprintf("dependency cycle through step %q", cycle),
		})
	}

	return errs
}

// findCycle runs a depth-first search over the dependency graph and
// returns the id of a step on a cycle, or "" if the graph is acyclic.
// Unknown dependency ids are ignored here; they are reported separately.
func findCycle(steps []Step) string {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.DependsOn
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(steps))

	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, dep := range deps[id] {
			if _, ok := deps[dep]; !ok {
				continue
			}
			if hit := visit(dep); hit != "" {
				return hit
			}
		}
		state[id] = done
		return ""
	}

	for _, s := range steps {
		if hit := visit(s.ID); hit != "" {
			return hit
		}
	}
	return ""
}
