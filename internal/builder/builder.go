// Package builder is the editing surface over a component tree. Every
// mutation goes through the undo history; reads delegate to the store.
package builder

import (
	"errors"

	"canvas/api/internal/catalog"
	"canvas/api/internal/component"
	"canvas/api/internal/history"
	"canvas/api/internal/state"
)

var ErrNoState = errors.New("builder has no state mirror")

type Builder struct {
	store   *component.Store
	history *history.History
	mirror  *state.Mirror
	onState func(state.Patch)
}

type Option func(*Builder)

// WithState enables EditState against m. onChange receives every patch that
// a state edit, or its undo, applies.
func WithState(m *state.Mirror, onChange func(state.Patch)) Option {
	return func(b *Builder) {
		b.mirror = m
		b.onState = onChange
	}
}

func New(store *component.Store, h *history.History, opts ...Option) *Builder {
	if h == nil {
		h = history.New()
	}
	b := &Builder{store: store, history: h}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) AddComponent(c component.Component) error {
	return b.history.Push(component.NewAddCommand(b.store, c))
}

// DeleteComponent removes id and its subtree and returns the removed ids.
func (b *Builder) DeleteComponent(id string) ([]string, error) {
	cmd := component.NewDeleteCommand(b.store, id)
	if err := b.history.Push(cmd); err != nil {
		return nil, err
	}
	return component.DeletedIDs(cmd), nil
}

func (b *Builder) MoveComponent(id, parentID string, position int) error {
	return b.history.Push(component.NewMoveCommand(b.store, id, parentID, position))
}

func (b *Builder) SetContent(id string, patch map[string]string) error {
	return b.history.Push(component.NewContentCommand(b.store, id, patch))
}

func (b *Builder) SetHandler(id, event, handlerRef string) error {
	return b.history.Push(component.NewHandlerCommand(b.store, id, event, handlerRef))
}

func (b *Builder) SetBinding(id string, binding *component.Binding) error {
	return b.history.Push(component.NewBindingCommand(b.store, id, binding))
}

func (b *Builder) SetVisibility(id string, visible component.Visibility) error {
	return b.history.Push(component.NewVisibilityCommand(b.store, id, visible))
}

// EditState writes value at path in the state mirror as an undoable step.
// state.Removed deletes the path.
func (b *Builder) EditState(path string, value any) error {
	if b.mirror == nil {
		return ErrNoState
	}
	return b.history.Push(state.NewEditCommand(b.mirror, path, value, b.onState))
}

// ReplaceTree loads a whole new tree. It cannot be undone, so the history is
// cleared.
func (b *Builder) ReplaceTree(components []component.Component) error {
	if err := b.store.Replace(components); err != nil {
		return err
	}
	b.history.Clear()
	return nil
}

func (b *Builder) Undo() bool { return b.history.Undo() }
func (b *Builder) Redo() bool { return b.history.Redo() }
func (b *Builder) CanUndo() bool { return b.history.CanUndo() }
func (b *Builder) CanRedo() bool { return b.history.CanRedo() }

func (b *Builder) Labels() (undo []string, redo []string) {
	return b.history.Labels()
}

func (b *Builder) Get(id string) (component.Component, error) {
	return b.store.Get(id)
}

func (b *Builder) Lookup(id string) (component.Component, bool) {
	return b.store.Lookup(id)
}

func (b *Builder) Children(parentID string) []component.Component {
	return b.store.Children(parentID)
}

func (b *Builder) Nested(rootID string) ([]component.Component, error) {
	return b.store.Nested(rootID)
}

func (b *Builder) Snapshot() []component.Component {
	return b.store.Snapshot()
}

func (b *Builder) Definition(typ string) (catalog.Definition, bool) {
	return b.store.Definition(typ)
}
