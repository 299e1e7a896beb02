package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// schemaCUE is the wire schema for workflow definition files.
// Loaded files are vetted against it before structural validation, so
// shape errors (wrong types, missing required fields) are reported with
// schema-level messages instead of zero-value surprises downstream.
const schemaCUE = `
#Definition: {
	id:    string & !=""
	name:  string
	steps: [...#Step]
	rollback_on_failure?: bool
}

#Step: {
	id:     string & !=""
	action: string & !=""
	target: string & !=""
	params?: {...}
	depends_on?: [...string]
	optional?:    bool
	max_retries?: int & >=0
	timeout_ms?:  int & >=0
	rollback?: #RollbackSpec
}

#RollbackSpec: {
	action: string & !=""
	params?: [string]: string
}
`

// Loader loads and saves workflow definitions.
// A Loader is safe for concurrent use; the compiled CUE schema is
// immutable after construction.
type Loader struct {
	schema cue.Value
	cuectx *cue.Context
}

// NewLoader compiles the embedded definition schema.
// Panics only if the embedded schema itself is broken, which is a
// programming error caught by any test that touches this package.
func NewLoader() *Loader {
	cuectx := cuecontext.New()
	schema := cuectx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Definition"))
	if err := schema.Err(); err != nil {
		panic(fmt.Sprintf("workflow: embedded schema is invalid: %v", err))
	}
	return &Loader{schema: schema, cuectx: cuectx}
}

// LoadFile reads a definition from a JSON or YAML file, vets it against
// the schema, and decodes it. Format is chosen by extension (.json,
// .yaml, .yml).
//
// Schema violations and structural validation errors are both returned
// as *InvalidDefinitionError so callers surface one combined report.
func (l *Loader) LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return l.Load(data, FormatJSON)
	case ".yaml", ".yml":
		return l.Load(data, FormatYAML)
	default:
		return nil, fmt.Errorf("unsupported definition format %q (want .json, .yaml, or .yml)", filepath.Ext(path))
	}
}

// Format identifies a definition serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Load vets and decodes a definition from raw bytes.
func (l *Loader) Load(data []byte, format Format) (*Definition, error) {
	// Decode to a plain map first so the CUE vet sees exactly what was
	// written, including unknown fields and wrong types.
	var raw map[string]any
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse definition: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse definition: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	if verrs := l.vet(raw); len(verrs) > 0 {
		id, _ := raw["id"].(string)
		return nil, &InvalidDefinitionError{WorkflowID: id, Errors: verrs}
	}

	// Re-encode through JSON for a single decode path regardless of
	// the input format.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize definition: %w", err)
	}
	var def Definition
	if err := json.Unmarshal(normalized, &def); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}

	if verrs := Validate(&def); len(verrs) > 0 {
		return nil, &InvalidDefinitionError{WorkflowID: def.ID, Errors: verrs}
	}

	return &def, nil
}

// vet unifies the raw document with the schema and collects violations.
func (l *Loader) vet(raw map[string]any) []ValidationError {
	doc := l.cuectx.Encode(raw)
	if err := doc.Err(); err != nil {
		return []ValidationError{{Field: "schema", Message: cueerrors.Details(err, nil)}}
	}

	unified := l.schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var verrs []ValidationError
		for _, e := range cueerrors.Errors(err) {
			verrs = append(verrs, ValidationError{
				Field:   strings.Join(pathStrings(e.Path()), "."),
				Message: e.Error(),
			})
		}
		return verrs
	}
	return nil
}

func pathStrings(path []string) []string {
	// CUE paths already come as plain selector strings.
	return path
}

// SaveFile writes a definition as pretty-printed JSON.
func (l *Loader) SaveFile(def *Definition, path string) error {
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write definition: %w", err)
	}
	return nil
}
