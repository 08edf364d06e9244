package database

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ApplyPatch applies the operations of p to data in order and returns the result.
// The input map is not modified. Set creates intermediate objects as needed and
// replaces any non-object value on the way. Delete removes only the addressed key;
// a missing parent is a no-op.
func ApplyPatch(data map[string]any, p Patch) (map[string]any, error) {
	out := CloneData(data)
	if out == nil {
		out = make(map[string]any)
	}

	for _, op := range p.Ops {
		segments := strings.Split(op.Path, ".")
		for _, s := range segments {
			if s == "" {
				return nil, fmt.Errorf("invalid field path %q", op.Path)
			}
		}

		switch op.Kind {
		case OpSet:
			value, err := normalizeValue(op.Value)
			if err != nil {
				return nil, fmt.Errorf("set %s: %w", op.Path, err)
			}
			parent := out
			for _, s := range segments[:len(segments)-1] {
				child, ok := parent[s].(map[string]any)
				if !ok {
					child = make(map[string]any)
					parent[s] = child
				}
				parent = child
			}
			parent[segments[len(segments)-1]] = value
		case OpDelete:
			parent := out
			found := true
			for _, s := range segments[:len(segments)-1] {
				child, ok := parent[s].(map[string]any)
				if !ok {
					found = false
					break
				}
				parent = child
			}
			if found {
				delete(parent, segments[len(segments)-1])
			}
		default:
			return nil, fmt.Errorf("unknown operation %d on %s", op.Kind, op.Path)
		}
	}

	return out, nil
}

// normalizeValue converts structs and typed slices into the generic JSON shape
// (map[string]any, []any, float64, string, bool) so every backend stores and
// compares the same representation.
func normalizeValue(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CloneData returns a deep copy of a generic JSON object.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = cloneValue(t[i])
		}
		return s
	default:
		return v
	}
}

// NormalizeData converts an arbitrary value (usually a struct) into a generic
// JSON object suitable for Store.Put.
func NormalizeData(v any) (map[string]any, error) {
	n, err := normalizeValue(v)
	if err != nil {
		return nil, err
	}
	m, ok := n.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("value of type %T is not an object", v)
	}
	return m, nil
}
