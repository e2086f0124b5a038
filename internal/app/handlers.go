package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"canvas/api/internal/binding"
	"canvas/api/internal/events"
	"canvas/api/internal/state"
)

var ErrUnknownHandler = errors.New("unknown handler")

// HandlerCall is what a handler sees. State is the document's authoritative
// mirror; writes to it are diffed and broadcast after the handler returns.
type HandlerCall struct {
	DocumentID string
	Event      events.Event
	State      *state.Mirror
	Evaluator  *binding.Evaluator
}

type HandlerFunc func(ctx context.Context, call HandlerCall) error

// HandlerRegistry maps the handler references stored on components to code.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
}

func (r *HandlerRegistry) Register(ref string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[ref] = fn
}

func (r *HandlerRegistry) Invoke(ctx context.Context, ref string, call HandlerCall) error {
	r.mu.RLock()
	fn, ok := r.handlers[ref]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, ref)
	}
	return fn(ctx, call)
}

func (r *HandlerRegistry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.handlers))
	for ref := range r.handlers {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
