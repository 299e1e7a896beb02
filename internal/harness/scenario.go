package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/torqueflow/torque/internal/workflow"
)

// Scenario defines a conformance test scenario.
// A scenario runs one workflow definition against a scripted dispatcher
// and asserts on the terminal result and the call trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It doubles as the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// SignalID is the triggering signal and idempotency scope.
	// Defaults to "signal-" + Name when empty.
	SignalID string `yaml:"signal_id,omitempty"`

	// Workflow is the definition to execute, inlined in the scenario
	// file.
	Workflow workflow.Definition `yaml:"workflow"`

	// Context seeds "$input.field" references in step params.
	Context map[string]interface{} `yaml:"context,omitempty"`

	// Behaviors scripts the dispatcher per "target.action" key. Each
	// call consumes the next outcome in the list; the last outcome
	// repeats once the list is exhausted. Actions without an entry
	// succeed with an empty result.
	Behaviors map[string][]Outcome `yaml:"behaviors,omitempty"`

	// Expect validates the terminal result and call counts.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Outcome scripts one dispatcher call. Exactly one of Result or Error
// should be set; an entry with neither is a success with an empty
// result.
type Outcome struct {
	// Result is the success payload.
	Result map[string]interface{} `yaml:"result,omitempty"`

	// Error is the failure to return.
	Error *OutcomeError `yaml:"error,omitempty"`
}

// OutcomeError describes a scripted dispatch failure.
type OutcomeError struct {
	// Status is the HTTP-like status code (429, 500, ...).
	Status int `yaml:"status,omitempty"`

	// Code is the provider error code ("ECONNRESET", "rate_limited").
	Code string `yaml:"code,omitempty"`

	Message string `yaml:"message,omitempty"`

	// Retryable hints classification for errors with no status.
	Retryable bool `yaml:"retryable,omitempty"`

	// RetryAfter is a rate-limit reset hint in seconds.
	RetryAfter int64 `yaml:"retry_after,omitempty"`
}

// Expect validates the terminal result of a scenario.
// All fields are subset checks; unset fields are not validated.
type Expect struct {
	// Status is the expected terminal workflow status.
	Status string `yaml:"status,omitempty"`

	// FailedStep is the expected failed step id.
	FailedStep string `yaml:"failed_step,omitempty"`

	// RolledBack asserts whether compensation ran.
	RolledBack *bool `yaml:"rolled_back,omitempty"`

	// ManualCount is the expected number of manual-intervention items
	// produced by rollback.
	ManualCount *int `yaml:"manual_count,omitempty"`

	// Steps maps step id to expected status (completed, failed,
	// blocked).
	Steps map[string]string `yaml:"steps,omitempty"`

	// Calls maps "target.action" to the expected dispatch count,
	// retries included.
	Calls map[string]int `yaml:"calls,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation
// (catches typos like "behavior:" vs "behaviors:").
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Workflow.Steps) == 0 {
		return fmt.Errorf("workflow with at least one step is required")
	}

	if verrs := workflow.Validate(&s.Workflow); len(verrs) > 0 {
		return fmt.Errorf("workflow: %s", verrs[0].Message)
	}

	for key, outcomes := range s.Behaviors {
		if len(outcomes) == 0 {
			return fmt.Errorf("behaviors[%s]: at least one outcome is required", key)
		}
		for i, o := range outcomes {
			if o.Result != nil && o.Error != nil {
				return fmt.Errorf("behaviors[%s][%d]: result and error are mutually exclusive", key, i)
			}
		}
	}

	if s.Expect != nil {
		for step, status := range s.Expect.Steps {
			switch status {
			case "completed", "failed", "blocked":
			default:
				return fmt.Errorf("expect.steps[%s]: unknown status %q", step, status)
			}
		}
		for key, n := range s.Expect.Calls {
			if n < 0 {
				return fmt.Errorf("expect.calls[%s]: count must be non-negative", key)
			}
		}
	}

	return nil
}
