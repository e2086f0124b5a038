// Package state keeps a local mirror of the authoritative state tree in sync
// through incremental patches.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrPatchShape marks a malformed patch. A rejected patch never touches the mirror.
var ErrPatchShape = errors.New("malformed state patch")

type removed struct{}

// Removed is the patch marker that deletes a key, as opposed to omitting it.
var Removed any = removed{}

// IsRemoved reports whether v is the Removed marker.
func IsRemoved(v any) bool {
	_, ok := v.(removed)
	return ok
}

// Patch is a partial state tree. Nested maps merge into the mirror, sequences
// replace the whole stored sequence, scalars overwrite and Removed deletes.
type Patch map[string]any

// Keys returns the top-level keys in sorted order.
func (p Patch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizePatch returns a deep copy of p with every map converted to
// map[string]any, or ErrPatchShape when a value is not representable.
func normalizePatch(p map[string]any, path string) (map[string]any, error) {
	out := make(map[string]any, len(p))
	for key, value := range p {
		if key == "" {
			return nil, fmt.Errorf("%w: %s: empty key", ErrPatchShape, displayPath(path))
		}
		child := joinDisplay(path, key)
		if IsRemoved(value) {
			out[key] = Removed
			continue
		}
		switch v := value.(type) {
		case Patch:
			nested, err := normalizePatch(v, child)
			if err != nil {
				return nil, err
			}
			out[key] = nested
		case map[string]any:
			nested, err := normalizePatch(v, child)
			if err != nil {
				return nil, err
			}
			out[key] = nested
		default:
			n, err := normalizeValue(value, child)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
	}
	return out, nil
}

// normalizeValue deep copies a plain state value. Removed is only valid as a
// map entry inside a patch, never inside stored values or sequences. Empty map
// keys are rejected since no path can address them.
func normalizeValue(value any, path string) (any, error) {
	switch v := value.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad number %q", ErrPatchShape, path, v)
		}
		return f, nil
	case Patch:
		return normalizeValue(map[string]any(v), path)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			if key == "" {
				return nil, fmt.Errorf("%w: %s: empty key", ErrPatchShape, displayPath(path))
			}
			n, err := normalizeValue(item, joinDisplay(path, key))
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			n, err := normalizeValue(item, joinDisplay(path, fmt.Sprint(i)))
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	case removed:
		return nil, fmt.Errorf("%w: %s: removal marker outside of a map entry", ErrPatchShape, path)
	default:
		return nil, fmt.Errorf("%w: %s: unsupported value type %T", ErrPatchShape, path, value)
	}
}

func displayPath(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}

func joinDisplay(path, key string) string {
	if path == "" {
		return EscapeKey(key)
	}
	return path + "." + EscapeKey(key)
}

// applyPatch merges an already normalized patch into dst.
func applyPatch(dst, patch map[string]any) {
	for key, value := range patch {
		switch v := value.(type) {
		case removed:
			delete(dst, key)
		case map[string]any:
			child, ok := dst[key].(map[string]any)
			if !ok {
				child = make(map[string]any, len(v))
				dst[key] = child
			}
			applyPatch(child, v)
		default:
			dst[key] = cloneValue(v)
		}
	}
}

// cloneValue deep copies maps and sequences; scalars are returned as is.
func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
