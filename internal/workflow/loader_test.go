package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definitionYAML = `
id: report
name: Quarterly report
rollback_on_failure: true
steps:
  - id: create
    action: create_document
    target: docs
    params:
      title: Q3
  - id: upload
    action: upload_file
    target: drive
    params:
      document_id: $create.document_id
    depends_on: [create]
    max_retries: 2
    timeout_ms: 5000
    rollback:
      action: delete_file
      params:
        file_id: $result.file_id
`

const definitionJSON = `{
  "id": "report",
  "name": "Quarterly report",
  "steps": [
    {"id": "create", "action": "create_document", "target": "docs"}
  ]
}`

func TestLoad_YAML(t *testing.T) {
	def, err := NewLoader().Load([]byte(definitionYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "report", def.ID)
	assert.True(t, def.RollbackOnFailure)
	require.Len(t, def.Steps, 2)

	upload := def.Steps[1]
	assert.Equal(t, "upload_file", upload.Action)
	require.NotNil(t, upload.MaxRetries)
	assert.Equal(t, 2, *upload.MaxRetries)
	assert.Equal(t, int64(5000), upload.TimeoutMS)
	require.NotNil(t, upload.Rollback)
	assert.Equal(t, "delete_file", upload.Rollback.Action)
	assert.Equal(t, "$result.file_id", upload.Rollback.Params["file_id"])
}

func TestLoad_JSON(t *testing.T) {
	def, err := NewLoader().Load([]byte(definitionJSON), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "report", def.ID)
	require.Len(t, def.Steps, 1)
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"wrong type for steps", "id: wf\nname: WF\nsteps: notalist\n"},
		{"negative max_retries", "id: wf\nname: WF\nsteps:\n  - {id: a, action: x, target: t, max_retries: -1}\n"},
		{"empty step id", "id: wf\nname: WF\nsteps:\n  - {id: \"\", action: x, target: t}\n"},
		{"missing target", "id: wf\nname: WF\nsteps:\n  - {id: a, action: x}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().Load([]byte(tt.yaml), FormatYAML)
			require.Error(t, err)

			var inv *InvalidDefinitionError
			require.True(t, errors.As(err, &inv), "want InvalidDefinitionError, got %v", err)
			assert.NotEmpty(t, inv.Errors)
		})
	}
}

func TestLoad_StructuralViolation(t *testing.T) {
	// Passes the schema vet, fails structural validation.
	data := []byte("id: wf\nname: WF\nsteps:\n  - {id: a, action: x, target: t, depends_on: [ghost]}\n")

	_, err := NewLoader().Load(data, FormatYAML)
	require.Error(t, err)

	var inv *InvalidDefinitionError
	require.True(t, errors.As(err, &inv))
	assert.Contains(t, inv.Error(), "unknown dependency")
}

func TestLoad_Unparseable(t *testing.T) {
	_, err := NewLoader().Load([]byte("{not json"), FormatJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse definition")
}

func TestLoadFile_FormatByExtension(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader()

	yamlPath := filepath.Join(dir, "wf.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(definitionYAML), 0o644))
	def, err := loader.LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "report", def.ID)

	jsonPath := filepath.Join(dir, "wf.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(definitionJSON), 0o644))
	def, err = loader.LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "report", def.ID)

	txtPath := filepath.Join(dir, "wf.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte(definitionJSON), 0o644))
	_, err = loader.LoadFile(txtPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported definition format")
}

func TestSaveFileRoundTrip(t *testing.T) {
	loader := NewLoader()
	def, err := loader.Load([]byte(definitionYAML), FormatYAML)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, loader.SaveFile(def, path))

	back, err := loader.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, def, back)
}

func TestStepTimeout(t *testing.T) {
	assert.Equal(t, time.Duration(0), Step{}.Timeout())
	assert.Equal(t, 5*time.Second, Step{TimeoutMS: 5000}.Timeout())
}

func TestStepByID(t *testing.T) {
	def := validDefinition()

	s, ok := def.StepByID("notify")
	require.True(t, ok)
	assert.Equal(t, "send_notification", s.Action)

	_, ok = def.StepByID("ghost")
	assert.False(t, ok)
}
