package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"canvas/api/internal/binding"
	"canvas/api/internal/component"
	"canvas/api/internal/events"
	"canvas/api/internal/presence"
	"canvas/api/internal/protocol"
	"canvas/api/internal/state"
	"canvas/api/internal/util"
)

// HandleEvent runs the listeners of ev against the authoritative state and
// returns the resulting mutations. The binding, if its event type matches,
// writes the payload to its state reference first; the handler registered
// for the event runs after it. Listener failures are logged and do not fail
// the event. origin, when set, is left out of the broadcast; it gets the
// mutations in an ack queued under the same lock, so no later patch can
// overtake it.
func (s *Service) HandleEvent(ctx context.Context, documentID string, ev events.Event, origin *subscriber) (map[string]any, error) {
	if strings.TrimSpace(ev.ComponentID) == "" || strings.TrimSpace(ev.Type) == "" {
		return nil, validationError("componentId and type are required")
	}
	if ev.ID == "" {
		ev.ID = util.NewID("evt")
	}
	if len(ev.InstancePath) == 0 {
		ev.InstancePath = binding.InstancePath{{ComponentID: ev.ComponentID}}
	}

	d, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.tree.Lookup(ev.ComponentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", component.ErrNotFound, ev.ComponentID)
	}

	prior := d.mirror.Snapshot()

	if c.Binding != nil && c.Binding.EventType == ev.Type {
		if target, ok := d.eval.StatePath(c.Binding.StateRef, ev.InstancePath); ok {
			if _, err := d.mirror.Set(target, ev.Payload); err != nil {
				log.Printf("app: binding %s of %s: %v", c.Binding.StateRef, c.ID, err)
			}
		} else {
			log.Printf("app: binding %s of %s is not writable", c.Binding.StateRef, c.ID)
		}
	}

	if ref := c.Handlers[ev.Type]; ref != "" {
		call := HandlerCall{DocumentID: documentID, Event: ev, State: d.mirror, Evaluator: d.eval}
		if err := s.handlers.Invoke(ctx, ref, call); err != nil {
			if errors.Is(err, ErrUnknownHandler) {
				log.Printf("app: %s %s on %s: no handler %q", documentID, ev.Type, c.ID, ref)
			} else {
				log.Printf("app: handler %s for %s on %s: %v", ref, ev.Type, c.ID, err)
			}
		}
	}

	patch := state.ComputeOutgoing(prior, d.mirror.Snapshot())
	mutations, err := state.EncodeMutations(patch)
	if err != nil {
		return nil, err
	}
	if len(patch) > 0 {
		d.dirty = true
		d.broadcastPatch(patch, origin)
	}
	if origin != nil {
		ack, err := protocol.NewMessage(protocol.TypeAck, ev.ID, protocol.AckPayload{Mutations: mutations})
		if err != nil {
			return nil, err
		}
		d.deliver(origin, ack)
	}
	return mutations, nil
}

type EvaluateInput struct {
	Expression   string               `json:"expression"`
	Template     string               `json:"template"`
	ComponentID  string               `json:"componentId"`
	InstancePath binding.InstancePath `json:"instancePath"`
}

// Evaluate resolves an expression, a template, or a component's bound view
// for one instance path.
func (s *Service) Evaluate(ctx context.Context, documentID string, input EvaluateInput) (map[string]any, error) {
	if input.Expression == "" && input.Template == "" && input.ComponentID == "" {
		return nil, validationError("expression, template or componentId is required")
	}
	payload := map[string]any{}
	err := s.read(ctx, documentID, func(d *Document) error {
		if input.Expression != "" {
			value, ok := d.eval.Evaluate(input.Expression, input.InstancePath)
			payload["value"] = value
			payload["found"] = ok
		}
		if input.Template != "" {
			payload["text"] = d.eval.Template(input.Template, input.InstancePath)
		}
		if input.ComponentID != "" {
			c, err := d.tree.Get(input.ComponentID)
			if err != nil {
				return err
			}
			path := input.InstancePath
			if len(path) == 0 {
				path = binding.InstancePath{{ComponentID: c.ID}}
			}
			content, _ := d.eval.Content(c.ID, path)
			view := map[string]any{
				"content": content,
				"visible": d.eval.Visible(c.ID, path),
			}
			if value, ok := d.eval.BoundValue(c.ID, path); ok {
				view["boundValue"] = value
			}
			if c.Type == binding.RepeaterType {
				view["entries"] = entriesPayload(d.eval.Entries(c.ID, path))
			}
			payload["component"] = view
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func entriesPayload(entries []binding.Entry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{"key": e.Key, "value": e.Value})
	}
	return out
}

// UpdatePresence records a presence ping and broadcasts the live list.
func (s *Service) UpdatePresence(ctx context.Context, documentID string, entry presence.Entry) ([]presence.Entry, error) {
	if strings.TrimSpace(entry.UserID) == "" {
		return nil, validationError("userId is required")
	}
	d, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	// The manager stamps the ping with its own clock.
	entry.Time = time.Time{}
	if err := d.presence.Ping(ctx, entry); err != nil {
		return nil, err
	}
	entries, err := d.presence.List(ctx)
	if err != nil {
		return nil, err
	}
	d.broadcastPresence(entries)
	return nonNilEntries(entries), nil
}

func (s *Service) Presence(ctx context.Context, documentID string) ([]presence.Entry, error) {
	d, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	entries, err := d.presence.List(ctx)
	if err != nil {
		return nil, err
	}
	return nonNilEntries(entries), nil
}

func nonNilEntries(entries []presence.Entry) []presence.Entry {
	if entries == nil {
		return []presence.Entry{}
	}
	return entries
}
