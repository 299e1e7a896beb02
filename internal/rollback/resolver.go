package rollback

import (
	"fmt"
	"strings"

	"github.com/torqueflow/torque/internal/param"
)

// UndoAction is a resolved compensating action, ready for dispatch.
type UndoAction struct {
	Action string
	Target string
	Params param.Object
}

// UndoResolver maps an executed action to its compensating action.
//
// Which delete undoes which create is knowledge owned by the action
// adapters, so the resolver is injected configuration, not logic baked
// into the coordinator. A step-level rollback spec, when present,
// always wins over the resolver.
type UndoResolver interface {
	Resolve(entry *ExecutedAction) (UndoAction, bool)
}

// Mapping describes how to build the undo call for one action type.
// Param values are templates: "$result.field" pulls from the original
// call's result, "$params.field" from its parameters, anything else is
// a literal.
type Mapping struct {
	Action string            `json:"action" yaml:"action"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// MappingResolver resolves undos from a static action-type table.
// This is the configuration-data form the external dispatcher
// collaborator supplies.
type MappingResolver struct {
	mappings map[string]Mapping
}

// NewMappingResolver builds a resolver from configuration data.
func NewMappingResolver(mappings map[string]Mapping) *MappingResolver {
	m := make(map[string]Mapping, len(mappings))
	for k, v := range mappings {
		m[k] = v
	}
	return &MappingResolver{mappings: m}
}

// DefaultMappings cover the create_*/delete_* action families the
// built-in adapters expose. Applications extend or replace them.
func DefaultMappings() map[string]Mapping {
	return map[string]Mapping{
		"create_document": {Action: "delete_document", Params: map[string]string{"document_id": "$result.document_id"}},
		"create_task":     {Action: "delete_task", Params: map[string]string{"task_id": "$result.task_id"}},
		"upload_file":     {Action: "delete_file", Params: map[string]string{"file_id": "$result.file_id"}},
		"append_row":      {Action: "delete_row", Params: map[string]string{"row_id": "$result.row_id"}},
		"log_row":         {Action: "delete_row", Params: map[string]string{"row_id": "$result.row_id"}},
	}
}

// Resolve implements UndoResolver.
func (r *MappingResolver) Resolve(entry *ExecutedAction) (UndoAction, bool) {
	m, ok := r.mappings[entry.Action]
	if !ok {
		return UndoAction{}, false
	}
	params, err := resolveTemplates(m.Params, entry)
	if err != nil {
		return UndoAction{}, false
	}
	return UndoAction{Action: m.Action, Target: entry.Target, Params: params}, true
}

// resolveSpec builds the undo from a step-supplied rollback spec.
func resolveSpec(entry *ExecutedAction) (UndoAction, error) {
	params, err := resolveTemplates(entry.Spec.Params, entry)
	if err != nil {
		return UndoAction{}, err
	}
	return UndoAction{Action: entry.Spec.Action, Target: entry.Target, Params: params}, nil
}

// resolveTemplates substitutes "$result.*" and "$params.*" references
// from the original call. All-or-nothing: a dangling reference fails
// the resolution rather than dispatching a half-built undo.
func resolveTemplates(templates map[string]string, entry *ExecutedAction) (param.Object, error) {
	params := make(param.Object, len(templates))
	for key, tmpl := range templates {
		switch {
		case strings.HasPrefix(tmpl, "$result."):
			v, ok := entry.Result.Field(tmpl[len("$result."):])
			if !ok {
				return nil, fmt.Errorf("undo param %q: field %q not found in result", key, tmpl)
			}
			params[key] = v
		case strings.HasPrefix(tmpl, "$params."):
			v, ok := entry.Params.Field(tmpl[len("$params."):])
			if !ok {
				return nil, fmt.Errorf("undo param %q: field %q not found in params", key, tmpl)
			}
			params[key] = v
		default:
			params[key] = param.String(tmpl)
		}
	}
	return params, nil
}
