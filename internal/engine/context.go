package engine

import (
	"fmt"
	"strings"

	"github.com/torqueflow/torque/internal/param"
)

// InputContextKey is the pseudo step id under which the caller's
// initial context is addressable ("$input.field").
const InputContextKey = "input"

// resolveParams substitutes "$stepId.field" references in a step's raw
// parameter bag from prior step results, then converts the bag to the
// constrained value model.
//
// Only whole-string values are treated as references; "$" embedded in
// a longer string is literal. Nested objects and arrays are resolved
// recursively. A dangling reference fails the whole resolution: steps
// never dispatch with half-substituted parameters.
func resolveParams(raw map[string]any, results map[string]param.Object) (param.Object, error) {
	resolved := make(param.Object, len(raw))
	for key, v := range raw {
		pv, err := resolveValue(v, results)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", key, err)
		}
		resolved[key] = pv
	}
	return resolved, nil
}

func resolveValue(v any, results map[string]param.Object) (param.Value, error) {
	switch val := v.(type) {
	case string:
		if ref, ok := parseRef(val); ok {
			return lookupRef(ref, results)
		}
		return param.String(val), nil
	case []any:
		arr := make(param.Array, len(val))
		for i, elem := range val {
			pv, err := resolveValue(elem, results)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = pv
		}
		return arr, nil
	case map[string]any:
		obj := make(param.Object, len(val))
		for k, elem := range val {
			pv, err := resolveValue(elem, results)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = pv
		}
		return obj, nil
	default:
		return param.FromAny(v)
	}
}

// stepRef is a parsed "$stepId.field.path" reference.
type stepRef struct {
	stepID string
	path   string
}

// parseRef recognizes "$stepId.field" reference strings.
func parseRef(s string) (stepRef, bool) {
	if len(s) < 2 || s[0] != '$' {
		return stepRef{}, false
	}
	rest := s[1:]
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return stepRef{}, false
	}
	return stepRef{stepID: rest[:dot], path: rest[dot+1:]}, true
}

func lookupRef(ref stepRef, results map[string]param.Object) (param.Value, error) {
	result, ok := results[ref.stepID]
	if !ok {
		return nil, fmt.Errorf("reference $%s.%s: no result for step %q", ref.stepID, ref.path, ref.stepID)
	}
	v, ok := result.Field(ref.path)
	if !ok {
		return nil, fmt.Errorf("reference $%s.%s: field %q not found", ref.stepID, ref.path, ref.path)
	}
	return v, nil
}
