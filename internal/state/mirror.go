package state

import (
	"fmt"
	"strconv"
)

// Mirror is a local copy of the authoritative state tree. It is not safe for
// concurrent use; Replica adds locking for client-side use.
type Mirror struct {
	root map[string]any
}

func NewMirror() *Mirror {
	return &Mirror{root: map[string]any{}}
}

// ApplyIncoming merges p into the mirror. The patch is validated in full
// before anything is written, so a malformed patch leaves the mirror as it was.
func (m *Mirror) ApplyIncoming(p Patch) error {
	normalized, err := normalizePatch(p, "")
	if err != nil {
		return err
	}
	applyPatch(m.root, normalized)
	return nil
}

// Get returns a copy of the value at a dotted path.
func (m *Mirror) Get(path string) (any, bool) {
	return m.Lookup(SplitPath(path))
}

// Lookup is Get over pre-split segments. No segments returns the whole tree.
func (m *Mirror) Lookup(segments []string) (any, bool) {
	v, ok := Walk(m.root, segments)
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Set writes value at path, creating intermediate maps. Writes through a
// sequence replace the whole sequence. It returns the patch that was applied.
func (m *Mirror) Set(path string, value any) (Patch, error) {
	segments := SplitPath(path)
	if !validSegments(segments) {
		return nil, fmt.Errorf("%w: invalid path %q", ErrPatchShape, path)
	}
	v, err := normalizeValue(value, path)
	if err != nil {
		return nil, err
	}
	next := cloneValue(m.root).(map[string]any)
	updated, err := setIn(next, segments, v)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", path, err)
	}
	return m.replace(updated.(map[string]any)), nil
}

// Delete removes the value at path. Deleting a missing key is a no-op.
func (m *Mirror) Delete(path string) (Patch, error) {
	segments := SplitPath(path)
	if !validSegments(segments) {
		return nil, fmt.Errorf("%w: invalid path %q", ErrPatchShape, path)
	}
	if _, ok := Walk(m.root, segments); !ok {
		return Patch{}, nil
	}
	next := cloneValue(m.root).(map[string]any)
	updated, err := setIn(next, segments, Removed)
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", path, err)
	}
	return m.replace(updated.(map[string]any)), nil
}

func (m *Mirror) replace(next map[string]any) Patch {
	patch := ComputeOutgoing(m.root, next)
	m.root = next
	return patch
}

// Snapshot returns a deep copy of the whole tree.
func (m *Mirror) Snapshot() map[string]any {
	return cloneValue(m.root).(map[string]any)
}

// Load replaces the whole tree.
func (m *Mirror) Load(snapshot map[string]any) error {
	v, err := normalizeValue(snapshot, "")
	if err != nil {
		return err
	}
	if v == nil {
		v = map[string]any{}
	}
	m.root = v.(map[string]any)
	return nil
}

// setIn writes value at segments inside cur, which it may modify in place,
// and returns the possibly new container. Removed deletes a map key or a
// sequence element.
func setIn(cur any, segments []string, value any) (any, error) {
	segment := segments[0]
	last := len(segments) == 1

	if list, ok := cur.([]any); ok {
		i, ok := sequenceIndex(segment)
		if !ok || i > len(list) || (i == len(list) && IsRemoved(value)) {
			return nil, fmt.Errorf("%w: index %q out of range", ErrPatchShape, segment)
		}
		if last {
			if IsRemoved(value) {
				return append(list[:i:i], list[i+1:]...), nil
			}
			if i == len(list) {
				return append(list, value), nil
			}
			list[i] = value
			return list, nil
		}
		var child any
		if i < len(list) {
			child = list[i]
		}
		updated, err := setIn(containerFor(child), segments[1:], value)
		if err != nil {
			return nil, err
		}
		if i == len(list) {
			return append(list, updated), nil
		}
		list[i] = updated
		return list, nil
	}

	obj, ok := cur.(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	if last {
		if IsRemoved(value) {
			delete(obj, segment)
		} else {
			obj[segment] = value
		}
		return obj, nil
	}
	updated, err := setIn(containerFor(obj[segment]), segments[1:], value)
	if err != nil {
		return nil, err
	}
	obj[segment] = updated
	return obj, nil
}

func containerFor(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		return v
	default:
		return map[string]any{}
	}
}

// Truthy reports whether a state value counts as set for visibility checks.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		if t == "" {
			return false
		}
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
		return true
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case int32:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}
