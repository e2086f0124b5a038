// Package protocol defines the frames exchanged over a document's WebSocket.
package protocol

import (
	"encoding/json"
	"fmt"

	"canvas/api/internal/binding"
	"canvas/api/internal/component"
	"canvas/api/internal/presence"
)

// Server to client.
const (
	TypeInit       = "init"
	TypePatch      = "patch"
	TypeComponents = "components"
	TypeAck        = "ack"
	TypePresence   = "presence"
	TypeError      = "error"
)

// Client to server. Presence frames travel both ways.
const (
	TypeEvent = "event"
)

type Message struct {
	Type       string          `json:"type"`
	TrackingID string          `json:"trackingId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func NewMessage(typ, trackingID string, payload any) (Message, error) {
	msg := Message{Type: typ, TrackingID: trackingID}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	msg.Payload = raw
	return msg, nil
}

func (m Message) Decode(target any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

type InitPayload struct {
	DocumentID string                `json:"documentId"`
	Components []component.Component `json:"components"`
	Mutations  map[string]any        `json:"mutations"`
	Presence   []presence.Entry      `json:"presence"`
}

// PatchPayload carries state mutations in the +path / -path wire form.
type PatchPayload struct {
	Mutations map[string]any `json:"mutations"`
}

type ComponentsPayload struct {
	Components []component.Component `json:"components"`
}

type AckPayload struct {
	Mutations map[string]any `json:"mutations"`
	Error     string         `json:"error,omitempty"`
}

type EventPayload struct {
	Type         string               `json:"type"`
	ComponentID  string               `json:"componentId"`
	InstancePath binding.InstancePath `json:"instancePath"`
	Payload      any                  `json:"payload"`
}

// PresencePayload is a ping from a client.
type PresencePayload struct {
	UserID    string              `json:"userId"`
	Action    string              `json:"action"`
	Selection *presence.Selection `json:"selection,omitempty"`
}

// PresenceListPayload is the document's live presence, sent by the server.
type PresenceListPayload struct {
	Entries []presence.Entry `json:"entries"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}
