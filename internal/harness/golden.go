package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/torqueflow/torque/internal/param"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// Serialized with canonical JSON for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Status       string       `json:"status"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any so it
// can pass through param.FromAny and canonical serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"kind": event.Kind,
		}
		if event.Event != "" {
			eventMap["event"] = event.Event
		}
		if event.StepID != "" {
			eventMap["step_id"] = event.StepID
		}
		if event.Action != "" {
			eventMap["action"] = event.Action
		}
		if event.Target != "" {
			eventMap["target"] = event.Target
		}
		if event.Attempt != 0 {
			eventMap["attempt"] = event.Attempt
		}
		if event.Outcome != "" {
			eventMap["outcome"] = event.Outcome
		}
		if event.Cached {
			eventMap["cached"] = true
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"status":        s.Status,
		"trace":         traceList,
	}
}

// RunWithGolden executes a scenario and compares the trace against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the trace doesn't match the golden file or an expect
// clause mismatched.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}

	for _, msg := range result.Errors {
		t.Errorf("scenario %s: %s", scenario.Name, msg)
	}

	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		Status:       result.Status,
		Trace:        result.Trace,
	}

	val, err := param.FromAny(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}
	traceJSON, err := param.MarshalCanonical(val)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)

	return nil
}
