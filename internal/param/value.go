package param

import (
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"
)

// Value is a sealed interface over the types a parameter bag may hold.
// Only Null, String, Int, Float, Bool, Array, and Object implement it.
//
// Parameter bags travel from signal classification into remote dispatch
// and into the idempotency key. Constraining the value set keeps the
// canonical serialization total: every Value has exactly one canonical
// byte representation.
type Value interface {
	paramValue() // Sealed - only these types implement it
}

// Null represents a JSON null value.
type Null struct{}

func (Null) paramValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a string value.
type String string

func (String) paramValue() {}

// Int represents an integer value. Always int64.
type Int int64

func (Int) paramValue() {}

// Float represents a floating-point value.
//
// Unlike hashes of internal records, parameter bags come from business
// payloads (amounts, rates) and must carry numbers. Canonical form uses
// shortest round-trip formatting (strconv 'g', 64-bit) so the same float
// always serializes to the same bytes. NaN and infinities are rejected
// at canonicalization time.
type Float float64

func (Float) paramValue() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) paramValue() {}

// Array represents an ordered list of Values.
type Array []Value

func (Array) paramValue() {}

// Object represents a map of string keys to Values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) paramValue() {}

// SortedKeys returns object keys in RFC 8785 order (UTF-16 code units).
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785. Go's default string comparison uses UTF-8
// bytes which produces a different order for supplementary-plane runes.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}

// FromAny converts a JSON-decoded Go value (string, bool, float64,
// []any, map[string]any, nil) into a Value.
//
// encoding/json decodes all numbers to float64; FromAny narrows values
// with no fractional part back to Int so that {"n": 3} hashes the same
// whether it was built programmatically or decoded from a wire payload.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case float64:
		if val == float64(int64(val)) {
			return Int(int64(val)), nil
		}
		return Float(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			pv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = pv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			pv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = pv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported parameter type: %T", v)
	}
}

// ObjectFromAny converts a map[string]any into an Object.
// Convenience wrapper over FromAny for the common top-level case.
func ObjectFromAny(m map[string]any) (Object, error) {
	v, err := FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(Object), nil
}

// ToAny converts a Value back to plain Go types for JSON encoding
// and for handing results to external collaborators.
func ToAny(v Value) any {
	switch val := v.(type) {
	case Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}

// Field extracts a dotted path ("field" or "nested.field") from an Object.
// Returns false if any segment is missing or a non-object is traversed.
func (obj Object) Field(path string) (Value, bool) {
	cur := obj
	for {
		dot := -1
		for i := 0; i < len(path); i++ {
			if path[i] == '.' {
				dot = i
				break
			}
		}
		if dot < 0 {
			v, ok := cur[path]
			return v, ok
		}
		next, ok := cur[path[:dot]]
		if !ok {
			return nil, false
		}
		nextObj, ok := next.(Object)
		if !ok {
			return nil, false
		}
		cur = nextObj
		path = path[dot+1:]
	}
}

// formatFloat renders a Float in its single canonical form.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
