// Package component owns the builder's component tree: an arena of component
// records indexed by id plus an ordered child index per parent.
//
// The store only exposes queries. Every mutation is built as a history.Command
// (see commands.go) so that the builder can record it for undo/redo.
package component

import (
	"encoding/json"
	"fmt"
)

type Binding struct {
	EventType string `json:"eventType"`
	StateRef  string `json:"stateRef"`
}

// Visibility is either a constant or an expression evaluated against state.
// The zero value is visible.
type Visibility struct {
	Expression string
	Hidden     bool
}

func Visible() Visibility { return Visibility{} }
func Hidden() Visibility { return Visibility{Hidden: true} }
func VisibleWhen(expr string) Visibility { return Visibility{Expression: expr} }

func (v Visibility) MarshalJSON() ([]byte, error) {
	if v.Expression != "" {
		return json.Marshal(v.Expression)
	}
	return json.Marshal(!v.Hidden)
}

func (v *Visibility) UnmarshalJSON(data []byte) error {
	var flag bool
	if err := json.Unmarshal(data, &flag); err == nil {
		*v = Visibility{Hidden: !flag}
		return nil
	}
	var expr string
	if err := json.Unmarshal(data, &expr); err != nil {
		return fmt.Errorf("visible must be a boolean or an expression")
	}
	*v = Visibility{Expression: expr}
	return nil
}

type Component struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	ParentID string            `json:"parentId,omitempty"`
	Position int               `json:"position"`
	Content  map[string]string `json:"content"`
	Handlers map[string]string `json:"handlers,omitempty"`
	Binding  *Binding          `json:"binding,omitempty"`
	Visible  Visibility        `json:"visible"`
}

// Clone returns a deep copy so callers can never write through to the store.
func (c Component) Clone() Component {
	out := c
	out.Content = cloneStrings(c.Content)
	out.Handlers = cloneStrings(c.Handlers)
	if c.Binding != nil {
		binding := *c.Binding
		out.Binding = &binding
	}
	return out
}

func cloneStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
