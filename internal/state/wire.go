package state

import (
	"fmt"
	"sort"
)

// EncodeMutations flattens a patch into the transport form: keys are dotted
// paths prefixed with "+" for a write or "-" for a removal.
func EncodeMutations(p Patch) (map[string]any, error) {
	normalized, err := normalizePatch(p, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	flatten(out, "", normalized)
	return out, nil
}

func flatten(out map[string]any, prefix string, patch map[string]any) {
	for key, value := range patch {
		path := joinDisplay(prefix, key)
		switch v := value.(type) {
		case removed:
			out["-"+path] = nil
		case map[string]any:
			if len(v) == 0 {
				out["+"+path] = map[string]any{}
				continue
			}
			flatten(out, path, v)
		default:
			out["+"+path] = v
		}
	}
}

// DecodeMutations rebuilds a nested patch from the transport form. Map values
// merge into the mirror like any nested patch.
func DecodeMutations(mutations map[string]any) (Patch, error) {
	keys := make([]string, 0, len(mutations))
	for k := range mutations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	patch := Patch{}
	for _, key := range keys {
		if len(key) < 2 || (key[0] != '+' && key[0] != '-') {
			return nil, fmt.Errorf("%w: bad mutation key %q", ErrPatchShape, key)
		}
		segments := SplitPath(key[1:])
		if !validSegments(segments) {
			return nil, fmt.Errorf("%w: bad mutation path %q", ErrPatchShape, key)
		}
		value := cloneValue(mutations[key])
		if key[0] == '-' {
			value = Removed
		}
		if err := place(patch, segments, value); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrPatchShape, key, err)
		}
	}
	if _, err := normalizePatch(patch, ""); err != nil {
		return nil, err
	}
	return patch, nil
}

func place(patch map[string]any, segments []string, value any) error {
	for _, segment := range segments[:len(segments)-1] {
		next, exists := patch[segment]
		if !exists {
			child := map[string]any{}
			patch[segment] = child
			patch = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("conflicts with a write to %q", segment)
		}
		patch = child
	}
	leaf := segments[len(segments)-1]
	if existing, exists := patch[leaf]; exists {
		em, existingIsMap := existing.(map[string]any)
		vm, valueIsMap := value.(map[string]any)
		if !existingIsMap || !valueIsMap {
			return fmt.Errorf("conflicting writes to %q", leaf)
		}
		for k, v := range vm {
			if _, dup := em[k]; dup {
				return fmt.Errorf("conflicting writes to %q", k)
			}
			em[k] = v
		}
		return nil
	}
	patch[leaf] = value
	return nil
}
