package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario(t *testing.T) {
	data := []byte(`
name: basic
description: one step, default success
workflow:
  id: wf
  name: WF
  steps:
    - id: ping
      action: send_message
      target: chat
      params:
        channel: ops
`)
	scenario, err := ParseScenario(data)
	require.NoError(t, err)

	assert.Equal(t, "basic", scenario.Name)
	assert.Equal(t, "wf", scenario.Workflow.ID)
	require.Len(t, scenario.Workflow.Steps, 1)
	assert.Equal(t, "send_message", scenario.Workflow.Steps[0].Action)
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	data := []byte(`
name: typo
description: behavior misspelled
workflow:
  id: wf
  name: WF
  steps:
    - id: ping
      action: send_message
      target: chat
behavior:
  chat.send_message:
    - result: {}
`)
	_, err := ParseScenario(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "behavior")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nworkflow:\n  id: wf\n  name: WF\n  steps:\n    - {id: a, action: x, target: t}\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nworkflow:\n  id: wf\n  name: WF\n  steps:\n    - {id: a, action: x, target: t}\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\nworkflow:\n  id: wf\n  name: WF\n",
			wantErr: "at least one step",
		},
		{
			name: "invalid workflow",
			yaml: "name: n\ndescription: d\nworkflow:\n  id: wf\n  name: WF\n  steps:\n" +
				"    - {id: a, action: x, target: t}\n    - {id: a, action: y, target: t}\n",
			wantErr: "workflow:",
		},
		{
			name: "empty behavior list",
			yaml: "name: n\ndescription: d\nworkflow:\n  id: wf\n  name: WF\n  steps:\n" +
				"    - {id: a, action: x, target: t}\nbehaviors:\n  t.x: []\n",
			wantErr: "at least one outcome",
		},
		{
			name: "result and error together",
			yaml: "name: n\ndescription: d\nworkflow:\n  id: wf\n  name: WF\n  steps:\n" +
				"    - {id: a, action: x, target: t}\nbehaviors:\n  t.x:\n" +
				"    - result: {ok: true}\n      error: {status: 500}\n",
			wantErr: "mutually exclusive",
		},
		{
			name: "unknown step status",
			yaml: "name: n\ndescription: d\nworkflow:\n  id: wf\n  name: WF\n  steps:\n" +
				"    - {id: a, action: x, target: t}\nexpect:\n  steps:\n    a: exploded\n",
			wantErr: "unknown status",
		},
		{
			name: "negative call count",
			yaml: "name: n\ndescription: d\nworkflow:\n  id: wf\n  name: WF\n  steps:\n" +
				"    - {id: a, action: x, target: t}\nexpect:\n  calls:\n    t.x: -1\n",
			wantErr: "non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/does-not-exist.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestLoadScenario_Testdata(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/report-rollback.yaml")
	require.NoError(t, err)

	assert.Equal(t, "report-rollback", scenario.Name)
	assert.True(t, scenario.Workflow.RollbackOnFailure)
	require.NotNil(t, scenario.Expect)
	assert.Equal(t, "rolled_back", scenario.Expect.Status)
	assert.Equal(t, 2, scenario.Expect.Calls["chat.send_notification"])
}
