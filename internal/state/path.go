package state

import (
	"strconv"
	"strings"
)

// SplitPath splits a dotted state path into its segments. A literal dot inside
// a key is written as `\.` and a literal backslash as `\\`.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	var (
		segments []string
		current  strings.Builder
	)
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '\\' && i+1 < len(path) && (path[i+1] == '.' || path[i+1] == '\\') {
			current.WriteByte(path[i+1])
			i++
			continue
		}
		if c == '.' {
			segments = append(segments, current.String())
			current.Reset()
			continue
		}
		current.WriteByte(c)
	}
	return append(segments, current.String())
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, ".", `\.`)

// EscapeKey escapes the backslashes and dots in a single key.
func EscapeKey(key string) string {
	return keyEscaper.Replace(key)
}

// PathKey joins segments into a dotted path, escaping dots inside them.
func PathKey(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = EscapeKey(s)
	}
	return strings.Join(escaped, ".")
}

func validSegments(segments []string) bool {
	if len(segments) == 0 {
		return false
	}
	for _, s := range segments {
		if s == "" {
			return false
		}
	}
	return true
}

// sequenceIndex parses a non-negative integer segment.
func sequenceIndex(segment string) (int, bool) {
	if segment == "" || segment[0] == '+' || segment[0] == '-' {
		return 0, false
	}
	i, err := strconv.Atoi(segment)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// Walk follows segments from value. A segment that is a non-negative integer
// indexes into a sequence; every other step is a map key. The result is not
// copied.
func Walk(value any, segments []string) (any, bool) {
	current := value
	for _, segment := range segments {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, ok := sequenceIndex(segment)
			if !ok || i >= len(v) {
				return nil, false
			}
			current = v[i]
		default:
			return nil, false
		}
	}
	return current, true
}
