package protocol

import (
	"encoding/json"
	"testing"

	"canvas/api/internal/binding"

	"github.com/google/go-cmp/cmp"
)

func TestMessageCarriesPayload(t *testing.T) {
	ev := EventPayload{
		Type:         "click",
		ComponentID:  "button",
		InstancePath: binding.InstancePath{{ComponentID: "rep", InstanceNumber: 2}, {ComponentID: "button"}},
		Payload:      "go",
	}
	msg, err := NewMessage(TypeEvent, "evt_1", ev)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeEvent || decoded.TrackingID != "evt_1" {
		t.Fatalf("unexpected envelope %+v", decoded)
	}
	var got EventPayload
	if err := decoded.Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if diff := cmp.Diff(ev, got); diff != "" {
		t.Fatalf("payload changed (-want +got):\n%s", diff)
	}
}

func TestDecodeWithoutPayload(t *testing.T) {
	msg, err := NewMessage(TypeAck, "x", nil)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	var ack AckPayload
	if err := msg.Decode(&ack); err == nil {
		t.Fatal("expected an error for an empty payload")
	}
}
