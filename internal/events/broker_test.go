package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"canvas/api/internal/binding"
	"canvas/api/internal/catalog"
	"canvas/api/internal/component"
)

type fakeComponents struct {
	comps map[string]component.Component
}

func (f fakeComponents) Lookup(id string) (component.Component, bool) {
	c, ok := f.comps[id]
	return c, ok
}

func (f fakeComponents) Definition(typ string) (catalog.Definition, bool) {
	return catalog.Builtin().Definition(typ)
}

// gatedSender blocks every Send until the test releases it.
type gatedSender struct {
	mu      sync.Mutex
	sent    []Event
	arrived chan Event
	release chan struct{}
}

func newGatedSender() *gatedSender {
	return &gatedSender{arrived: make(chan Event, 16), release: make(chan struct{})}
}

func (s *gatedSender) Send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	s.sent = append(s.sent, ev)
	s.mu.Unlock()
	s.arrived <- ev
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *gatedSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return Event{}
	}
}

func expectNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func testComponents() fakeComponents {
	return fakeComponents{comps: map[string]component.Component{
		"input":  {ID: "input", Type: "textinput", Binding: &component.Binding{EventType: "change", StateRef: "name"}},
		"button": {ID: "button", Type: "button", Handlers: map[string]string{"click": "handle_click"}},
		"plain":  {ID: "plain", Type: "button"},
		"linked": {ID: "linked", Type: "button"},
	}}
}

func path(id string) binding.InstancePath {
	return binding.InstancePath{{ComponentID: id}}
}

func TestHandleInputIgnoredWithoutListeners(t *testing.T) {
	sender := newGatedSender()
	b := NewBroker(sender, testComponents(), WithLinked(func(id, ev string) bool { return id == "linked" && ev == "click" }))
	defer b.Close()

	if b.HandleInput(path("plain"), "click", nil) {
		t.Fatal("expected unconsumed input to be ignored")
	}
	if b.HandleInput(path("missing"), "click", nil) {
		t.Fatal("expected unknown component to be ignored")
	}
	if b.HandleInput(path("input"), "change-finish", "x") {
		t.Fatal("binding on a different event type should not consume")
	}
	if !b.HandleInput(path("linked"), "click", nil) {
		t.Fatal("expected linked trigger to consume the event")
	}
	waitEvent(t, sender.arrived)
}

func TestDebounceKeepsLastValue(t *testing.T) {
	sender := newGatedSender()
	acks := make(chan Event, 8)
	b := NewBroker(sender, testComponents(), WithAckHook(func(ev Event, err error) { acks <- ev }))
	defer b.Close()

	p := path("input")
	if !b.HandleInput(p, "change", "a") {
		t.Fatal("expected input to be consumed")
	}
	first := waitEvent(t, sender.arrived)
	if first.Payload != "a" {
		t.Fatalf("expected first payload a, got %v", first.Payload)
	}
	for _, v := range []string{"b", "c", "d"} {
		b.HandleInput(p, "change", v)
	}
	if got := b.State(p, "change"); got != "pending+queued" {
		t.Fatalf("expected pending+queued, got %s", got)
	}
	expectNoEvent(t, sender.arrived)

	sender.release <- struct{}{}
	second := waitEvent(t, sender.arrived)
	if second.Payload != "d" {
		t.Fatalf("expected only the last value to be sent, got %v", second.Payload)
	}
	if second.ID == first.ID {
		t.Fatal("expected a fresh tracking id")
	}
	sender.release <- struct{}{}

	waitEvent(t, acks)
	waitEvent(t, acks)
	expectNoEvent(t, sender.arrived)
	if sender.count() != 2 {
		t.Fatalf("expected exactly two sends, got %d", sender.count())
	}
	if got := b.State(p, "change"); got != "idle" {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestEmittersAreIndependentPerInstance(t *testing.T) {
	sender := newGatedSender()
	b := NewBroker(sender, testComponents())
	defer b.Close()

	one := binding.InstancePath{{ComponentID: "rep", InstanceNumber: 0}, {ComponentID: "button", InstanceNumber: 0}}
	two := binding.InstancePath{{ComponentID: "rep", InstanceNumber: 1}, {ComponentID: "button", InstanceNumber: 0}}
	b.HandleInput(one, "click", nil)
	b.HandleInput(two, "click", nil)
	waitEvent(t, sender.arrived)
	waitEvent(t, sender.arrived)
}

func TestMountEmitsBindingValueOnce(t *testing.T) {
	sender := newGatedSender()
	b := NewBroker(sender, testComponents())
	defer b.Close()

	if b.Mount(path("button")) {
		t.Fatal("components without a binding should not emit on mount")
	}
	if !b.Mount(path("input")) {
		t.Fatal("expected bound component to emit on mount")
	}
	ev := waitEvent(t, sender.arrived)
	if ev.Type != "change" || ev.Payload != "" {
		t.Fatalf("unexpected mount event %+v", ev)
	}
	if b.Mount(path("input")) {
		t.Fatal("expected a single mount emission per instance")
	}
}

func TestCancelDropsQueuedValue(t *testing.T) {
	sender := newGatedSender()
	acks := make(chan Event, 8)
	b := NewBroker(sender, testComponents(), WithAckHook(func(ev Event, err error) { acks <- ev }))
	defer b.Close()

	p := path("input")
	b.HandleInput(p, "change", "a")
	waitEvent(t, sender.arrived)
	b.HandleInput(p, "change", "b")

	b.Cancel("input")
	expectNoEvent(t, sender.arrived)
	expectNoEvent(t, acks)
	if got := b.State(p, "change"); got != "idle" {
		t.Fatalf("expected idle after cancel, got %s", got)
	}
}

func TestCloseStopsEmission(t *testing.T) {
	sender := newGatedSender()
	b := NewBroker(sender, testComponents())

	b.HandleInput(path("button"), "click", nil)
	waitEvent(t, sender.arrived)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if b.HandleInput(path("button"), "click", nil) {
		t.Fatal("expected closed broker to refuse input")
	}
	if err := b.Close(); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
