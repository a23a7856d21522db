// Package merge deep-merges layered configuration mappings.
//
// Values in an override layer always win over the base. When both sides hold
// a mapping at the same key the two mappings are merged recursively; any
// other combination (scalar over mapping, mapping over scalar, list over
// list) is a plain replacement.
package merge

import "fmt"

// Merge returns a new mapping holding base overlaid with overrides.
//
// Neither input is modified and the result shares no mutable maps with
// them, so callers may keep using base after the call.
func Merge(base, overrides map[string]any) map[string]any {
	out := Clone(base)
	if out == nil {
		out = map[string]any{}
	}
	for key, value := range overrides {
		override, ok := asMap(value)
		if !ok {
			out[key] = cloneValue(value)
			continue
		}
		existing, present := out[key]
		if !present {
			out[key] = Merge(nil, override)
			continue
		}
		if baseMap, ok := asMap(existing); ok {
			out[key] = Merge(baseMap, override)
			continue
		}
		// A non-mapping base loses to a mapping override.
		out[key] = Merge(nil, override)
	}
	return out
}

// All folds overrides into base from left to right.
func All(base map[string]any, overrides ...map[string]any) map[string]any {
	out := Clone(base)
	if out == nil {
		out = map[string]any{}
	}
	for _, o := range overrides {
		out = Merge(out, o)
	}
	return out
}

// Clone returns a deep copy of m. Nested mappings and slices are copied;
// scalars are shared.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := asMap(v); ok {
		return Clone(m)
	}
	if s, ok := v.([]any); ok {
		cp := make([]any, len(s))
		for i := range s {
			cp[i] = cloneValue(s[i])
		}
		return cp
	}
	return v
}

// asMap normalizes the mapping shapes produced by the YAML and JSON decoders.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
