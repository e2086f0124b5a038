// Package binding resolves binding expressions against the state mirror,
// taking repeater instances into account.
package binding

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"canvas/api/internal/component"
	"canvas/api/internal/state"
)

// ErrUnresolvedBinding is returned by Resolve. Evaluate reports the same
// condition as a missing value instead.
var ErrUnresolvedBinding = errors.New("unresolved binding")

const (
	RepeaterType         = "repeater"
	DefaultKeyVariable   = "itemId"
	DefaultValueVariable = "item"
)

var templatePattern = regexp.MustCompile(`@\{([^{}]*)\}`)

// InstanceItem records which repetition of a component is being rendered.
type InstanceItem struct {
	ComponentID    string `json:"componentId"`
	InstanceNumber int    `json:"instanceNumber"`
}

// InstancePath lists the instances from a root down to the rendered component.
type InstancePath []InstanceItem

// Source is the state tree being read. *state.Mirror and *state.Replica
// satisfy it.
type Source interface {
	Lookup(segments []string) (any, bool)
}

// Components looks up component configuration. *component.Store satisfies it.
type Components interface {
	Lookup(id string) (component.Component, bool)
}

// Entry is one repetition of a repeater: a map key or a sequence index, and
// the value found there.
type Entry struct {
	Key   any
	Value any
}

type Evaluator struct {
	state      Source
	components Components
}

func NewEvaluator(src Source, components Components) *Evaluator {
	return &Evaluator{state: src, components: components}
}

// Evaluate resolves expr for the instance identified by path. Missing data is
// reported as (nil, false).
func (e *Evaluator) Evaluate(expr string, path InstancePath) (any, bool) {
	segments := state.SplitPath(strings.TrimSpace(expr))
	if len(segments) == 0 || segments[0] == "" {
		return nil, false
	}
	if value, ok, aliased := e.resolveAlias(segments[0], path); aliased {
		if !ok {
			return nil, false
		}
		return state.Walk(value, segments[1:])
	}
	return e.state.Lookup(segments)
}

// Resolve is Evaluate with an error for callers that need one.
func (e *Evaluator) Resolve(expr string, path InstancePath) (any, error) {
	value, ok := e.Evaluate(expr, path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedBinding, expr)
	}
	return value, nil
}

// resolveAlias checks the repeaters on path, innermost first, for one whose
// key or value variable is name. aliased is false when no repeater claims it.
func (e *Evaluator) resolveAlias(name string, path InstancePath) (value any, ok bool, aliased bool) {
	for i := len(path) - 2; i >= 0; i-- {
		rep, found := e.components.Lookup(path[i].ComponentID)
		if !found || rep.Type != RepeaterType {
			continue
		}
		keyVar, valueVar := repeaterVariables(rep)
		if name != keyVar && name != valueVar {
			continue
		}
		entries := e.entries(rep, path[:i+1])
		n := path[i+1].InstanceNumber
		if n < 0 || n >= len(entries) {
			return nil, false, true
		}
		if name == keyVar {
			return entries[n].Key, true, true
		}
		return entries[n].Value, true, true
	}
	return nil, false, false
}

func repeaterVariables(rep component.Component) (keyVar, valueVar string) {
	keyVar = rep.Content["keyVariable"]
	if keyVar == "" {
		keyVar = DefaultKeyVariable
	}
	valueVar = rep.Content["valueVariable"]
	if valueVar == "" {
		valueVar = DefaultValueVariable
	}
	return keyVar, valueVar
}

// Entries returns the repetitions of a repeater in render order: sorted keys
// for maps, index order for sequences. path is the repeater's own instance
// path.
func (e *Evaluator) Entries(repeaterID string, path InstancePath) []Entry {
	rep, ok := e.components.Lookup(repeaterID)
	if !ok || rep.Type != RepeaterType {
		return nil
	}
	return e.entries(rep, path)
}

func (e *Evaluator) entries(rep component.Component, path InstancePath) []Entry {
	source, ok := e.FieldValue(rep.Content["repeaterObject"], path)
	if !ok {
		return nil
	}
	switch v := source.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]Entry, 0, len(keys))
		for _, k := range keys {
			out = append(out, Entry{Key: k, Value: v[k]})
		}
		return out
	case []any:
		out := make([]Entry, 0, len(v))
		for i, item := range v {
			out = append(out, Entry{Key: i, Value: item})
		}
		return out
	default:
		return nil
	}
}

// FieldValue resolves an object-like field: a lone template yields the bound
// value itself, anything else is parsed as JSON.
func (e *Evaluator) FieldValue(raw string, path InstancePath) (any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	if m := templatePattern.FindStringSubmatchIndex(raw); m != nil && m[0] == 0 && m[1] == len(raw) {
		return e.Evaluate(raw[m[2]:m[3]], path)
	}
	var v any
	if err := json.Unmarshal([]byte(e.Template(raw, path)), &v); err != nil {
		return nil, false
	}
	return v, true
}

// Template substitutes every @{expr} in raw. Strings are inserted as is,
// other values as JSON, and unresolved expressions as the empty string.
func (e *Evaluator) Template(raw string, path InstancePath) string {
	if !strings.Contains(raw, "@{") {
		return raw
	}
	return templatePattern.ReplaceAllStringFunc(raw, func(match string) string {
		expr := templatePattern.FindStringSubmatch(match)[1]
		value, ok := e.Evaluate(expr, path)
		if !ok {
			return ""
		}
		return format(value)
	})
}

func format(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

// Content returns the component's content with every template resolved.
func (e *Evaluator) Content(componentID string, path InstancePath) (map[string]string, bool) {
	c, ok := e.components.Lookup(componentID)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(c.Content))
	for key, raw := range c.Content {
		out[key] = e.Template(raw, path)
	}
	return out, true
}

// Visible evaluates the component's visibility for one instance. An
// expression that cannot be resolved hides the component.
func (e *Evaluator) Visible(componentID string, path InstancePath) bool {
	c, ok := e.components.Lookup(componentID)
	if !ok {
		return false
	}
	if c.Visible.Expression == "" {
		return !c.Visible.Hidden
	}
	value, ok := e.Evaluate(c.Visible.Expression, path)
	return ok && state.Truthy(value)
}

// BoundValue returns the current value of the state path the component is
// bound to.
func (e *Evaluator) BoundValue(componentID string, path InstancePath) (any, bool) {
	c, ok := e.components.Lookup(componentID)
	if !ok || c.Binding == nil {
		return nil, false
	}
	return e.Evaluate(c.Binding.StateRef, path)
}

// StatePath rewrites expr into a path rooted at the state tree so it can be
// written. A repeater value variable is replaced by the repeated collection's
// path plus the entry key; that only works when the repeater object is a lone
// template. Key variables are read-only.
func (e *Evaluator) StatePath(expr string, path InstancePath) (string, bool) {
	segments := state.SplitPath(strings.TrimSpace(expr))
	if len(segments) == 0 || segments[0] == "" {
		return "", false
	}
	for i := len(path) - 2; i >= 0; i-- {
		rep, found := e.components.Lookup(path[i].ComponentID)
		if !found || rep.Type != RepeaterType {
			continue
		}
		keyVar, valueVar := repeaterVariables(rep)
		if segments[0] == keyVar {
			return "", false
		}
		if segments[0] != valueVar {
			continue
		}
		raw := strings.TrimSpace(rep.Content["repeaterObject"])
		m := templatePattern.FindStringSubmatchIndex(raw)
		if m == nil || m[0] != 0 || m[1] != len(raw) {
			return "", false
		}
		base, ok := e.StatePath(raw[m[2]:m[3]], path[:i+1])
		if !ok {
			return "", false
		}
		entries := e.entries(rep, path[:i+1])
		n := path[i+1].InstanceNumber
		if n < 0 || n >= len(entries) {
			return "", false
		}
		rest := append([]string{fmt.Sprint(entries[n].Key)}, segments[1:]...)
		return base + "." + state.PathKey(rest...), true
	}
	return state.PathKey(segments...), true
}
