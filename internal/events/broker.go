// Package events turns component interactions into outbound events with at
// most one event in flight per emitter.
package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"canvas/api/internal/binding"
	"canvas/api/internal/catalog"
	"canvas/api/internal/component"
	"canvas/api/internal/util"
)

var ErrClosed = errors.New("event broker closed")

type Event struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	ComponentID  string               `json:"componentId"`
	InstancePath binding.InstancePath `json:"instancePath"`
	Payload      any                  `json:"payload"`
}

// Sender delivers an event to the authoritative side. Send returns once the
// event has been acknowledged or ctx is done.
type Sender interface {
	Send(ctx context.Context, ev Event) error
}

type SenderFunc func(ctx context.Context, ev Event) error

func (f SenderFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Components is the read side of the component tree. *component.Store
// satisfies it.
type Components interface {
	Lookup(id string) (component.Component, bool)
	Definition(typ string) (catalog.Definition, bool)
}

type emitterState int

const (
	stateIdle emitterState = iota
	statePending
	statePendingQueued
)

func (s emitterState) String() string {
	switch s {
	case statePending:
		return "pending"
	case statePendingQueued:
		return "pending+queued"
	default:
		return "idle"
	}
}

type emitterKey struct {
	instance  string
	eventType string
}

type emitter struct {
	componentID string
	state       emitterState
	queued      Event
	cancel      context.CancelFunc
}

type Option func(*Broker)

// WithLinked registers a predicate for downstream triggers that consume an
// event even without a handler or binding.
func WithLinked(fn func(componentID, eventType string) bool) Option {
	return func(b *Broker) { b.linked = fn }
}

// WithAckHook is called after every acknowledgment, with the send error if any.
func WithAckHook(fn func(ev Event, err error)) Option {
	return func(b *Broker) { b.onAck = fn }
}

type Broker struct {
	sender     Sender
	components Components
	linked     func(componentID, eventType string) bool
	onAck      func(ev Event, err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	emitters map[emitterKey]*emitter
	mounted  map[string]string
}

func NewBroker(sender Sender, components Components, opts ...Option) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		sender:     sender,
		components: components,
		ctx:        ctx,
		cancel:     cancel,
		emitters:   make(map[emitterKey]*emitter),
		mounted:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// instanceKey identifies one rendered instance of a component.
func instanceKey(path binding.InstancePath) string {
	parts := make([]string, len(path))
	for i, item := range path {
		parts[i] = fmt.Sprintf("%s:%d", item.ComponentID, item.InstanceNumber)
	}
	return strings.Join(parts, "/")
}

// consumes reports whether anything listens for eventType on c.
func (b *Broker) consumes(c component.Component, eventType string) bool {
	if c.Handlers[eventType] != "" {
		return true
	}
	if c.Binding != nil && c.Binding.EventType == eventType {
		return true
	}
	return b.linked != nil && b.linked(c.ID, eventType)
}

// HandleInput emits value as eventType for the component instance at the end
// of path. It returns false when nothing consumes the event. While an event
// from the same emitter is in flight the value is queued, replacing any value
// queued before it.
func (b *Broker) HandleInput(path binding.InstancePath, eventType string, value any) bool {
	if len(path) == 0 {
		return false
	}
	c, ok := b.components.Lookup(path[len(path)-1].ComponentID)
	if !ok || !b.consumes(c, eventType) {
		return false
	}
	return b.emit(c.ID, path, eventType, value)
}

// Mount performs the initial emission of a bound component: once per
// instance, the catalog's binding value is sent to establish state.
func (b *Broker) Mount(path binding.InstancePath) bool {
	if len(path) == 0 {
		return false
	}
	c, ok := b.components.Lookup(path[len(path)-1].ComponentID)
	if !ok || c.Binding == nil {
		return false
	}
	key := instanceKey(path)
	b.mu.Lock()
	if _, done := b.mounted[key]; done || b.closed {
		b.mu.Unlock()
		return false
	}
	b.mounted[key] = c.ID
	b.mu.Unlock()

	var value any
	if def, ok := b.components.Definition(c.Type); ok {
		value = def.Events[c.Binding.EventType].BindingValue
	}
	return b.emit(c.ID, path, c.Binding.EventType, value)
}

func (b *Broker) emit(componentID string, path binding.InstancePath, eventType string, value any) bool {
	ev := Event{
		ID:           util.NewID("evt"),
		Type:         eventType,
		ComponentID:  componentID,
		InstancePath: append(binding.InstancePath(nil), path...),
		Payload:      value,
	}
	key := emitterKey{instance: instanceKey(path), eventType: eventType}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	em, ok := b.emitters[key]
	if !ok {
		em = &emitter{componentID: componentID}
		b.emitters[key] = em
	}
	switch em.state {
	case stateIdle:
		b.startLocked(key, em, ev)
	case statePending, statePendingQueued:
		em.state = statePendingQueued
		em.queued = ev
	}
	return true
}

func (b *Broker) startLocked(key emitterKey, em *emitter, ev Event) {
	ctx, cancel := context.WithCancel(b.ctx)
	em.state = statePending
	em.cancel = cancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := b.sender.Send(ctx, ev)
		cancel()
		b.acknowledge(key, em, ev, err)
	}()
}

func (b *Broker) acknowledge(key emitterKey, em *emitter, ev Event, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("events: send %s %s failed: %v", ev.ComponentID, ev.Type, err)
	}

	b.mu.Lock()
	current, ok := b.emitters[key]
	if !ok || current != em {
		// Cancelled while in flight.
		b.mu.Unlock()
		return
	}
	if em.state == statePendingQueued && !b.closed {
		next := em.queued
		em.queued = Event{}
		b.startLocked(key, em, next)
	} else {
		delete(b.emitters, key)
	}
	b.mu.Unlock()

	if b.onAck != nil {
		b.onAck(ev, err)
	}
}

// Cancel drops in-flight and queued emissions for every instance of a
// component, typically because it was deleted.
func (b *Broker) Cancel(componentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, em := range b.emitters {
		if em.componentID != componentID {
			continue
		}
		if em.cancel != nil {
			em.cancel()
		}
		delete(b.emitters, key)
	}
	for key, id := range b.mounted {
		if id == componentID {
			delete(b.mounted, key)
		}
	}
}

// State reports the emitter state for one instance and event type, for tests
// and diagnostics.
func (b *Broker) State(path binding.InstancePath, eventType string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	em, ok := b.emitters[emitterKey{instance: instanceKey(path), eventType: eventType}]
	if !ok {
		return stateIdle.String()
	}
	return em.state.String()
}

// Close cancels everything in flight and waits for the senders to return.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	b.emitters = make(map[emitterKey]*emitter)
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}
