package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"canvas/api/internal/component"
	"canvas/api/internal/search"
	"canvas/api/internal/state"
	"canvas/api/internal/util"
)

// mutate runs fn under the document lock. A successful mutation marks the
// document dirty, pushes the new tree to subscribers and reindexes it.
func (s *Service) mutate(ctx context.Context, documentID string, fn func(d *Document) error) error {
	d, err := s.document(ctx, documentID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := fn(d); err != nil {
		return err
	}
	d.dirty = true
	d.broadcastComponents()
	s.search.ReindexDocument(documentID, search.ComponentRecords(documentID, d.tree.Snapshot()))
	return nil
}

func (s *Service) read(ctx context.Context, documentID string, fn func(d *Document) error) error {
	d, err := s.document(ctx, documentID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d)
}

// ListComponents returns the children of parentID in order, or the whole
// tree in pre-order when parentID is empty.
func (s *Service) ListComponents(ctx context.Context, documentID, parentID string) ([]component.Component, error) {
	var items []component.Component
	err := s.read(ctx, documentID, func(d *Document) error {
		if parentID == "" {
			items = d.tree.Snapshot()
			return nil
		}
		if !d.tree.Has(parentID) {
			return fmt.Errorf("%w: %s", component.ErrNotFound, parentID)
		}
		items = d.tree.Children(parentID)
		return nil
	})
	return items, err
}

func (s *Service) GetComponent(ctx context.Context, documentID, componentID string) (component.Component, error) {
	var c component.Component
	err := s.read(ctx, documentID, func(d *Document) error {
		var err error
		c, err = d.tree.Get(componentID)
		return err
	})
	return c, err
}

func (s *Service) NestedComponents(ctx context.Context, documentID, componentID string) ([]component.Component, error) {
	var items []component.Component
	err := s.read(ctx, documentID, func(d *Document) error {
		var err error
		items, err = d.tree.Nested(componentID)
		return err
	})
	return items, err
}

// AddComponent inserts c. An empty id is generated from the type.
func (s *Service) AddComponent(ctx context.Context, documentID string, c component.Component) (component.Component, error) {
	if strings.TrimSpace(c.Type) == "" {
		return component.Component{}, validationError("type is required")
	}
	if c.ID == "" {
		c.ID = util.NewID(c.Type)
	}
	var added component.Component
	err := s.mutate(ctx, documentID, func(d *Document) error {
		if err := d.builder.AddComponent(c); err != nil {
			return err
		}
		var err error
		added, err = d.tree.Get(c.ID)
		return err
	})
	return added, err
}

func (s *Service) DeleteComponent(ctx context.Context, documentID, componentID string) ([]string, error) {
	var removed []string
	err := s.mutate(ctx, documentID, func(d *Document) error {
		var err error
		removed, err = d.builder.DeleteComponent(componentID)
		return err
	})
	return removed, err
}

func (s *Service) MoveComponent(ctx context.Context, documentID, componentID, parentID string, position int) (component.Component, error) {
	var moved component.Component
	err := s.mutate(ctx, documentID, func(d *Document) error {
		if err := d.builder.MoveComponent(componentID, parentID, position); err != nil {
			return err
		}
		var err error
		moved, err = d.tree.Get(componentID)
		return err
	})
	return moved, err
}

func (s *Service) SetContent(ctx context.Context, documentID, componentID string, patch map[string]string) (component.Component, error) {
	if len(patch) == 0 {
		return component.Component{}, validationError("content is required")
	}
	return s.updateComponent(ctx, documentID, componentID, func(d *Document) error {
		return d.builder.SetContent(componentID, patch)
	})
}

func (s *Service) SetHandler(ctx context.Context, documentID, componentID, event, handlerRef string) (component.Component, error) {
	if strings.TrimSpace(event) == "" {
		return component.Component{}, validationError("event is required")
	}
	return s.updateComponent(ctx, documentID, componentID, func(d *Document) error {
		return d.builder.SetHandler(componentID, event, handlerRef)
	})
}

// SetBinding replaces the binding of componentID; nil removes it.
func (s *Service) SetBinding(ctx context.Context, documentID, componentID string, b *component.Binding) (component.Component, error) {
	return s.updateComponent(ctx, documentID, componentID, func(d *Document) error {
		return d.builder.SetBinding(componentID, b)
	})
}

func (s *Service) SetVisibility(ctx context.Context, documentID, componentID string, visible component.Visibility) (component.Component, error) {
	return s.updateComponent(ctx, documentID, componentID, func(d *Document) error {
		return d.builder.SetVisibility(componentID, visible)
	})
}

func (s *Service) updateComponent(ctx context.Context, documentID, componentID string, fn func(d *Document) error) (component.Component, error) {
	var updated component.Component
	err := s.mutate(ctx, documentID, func(d *Document) error {
		if err := fn(d); err != nil {
			return err
		}
		var err error
		updated, err = d.tree.Get(componentID)
		return err
	})
	return updated, err
}

func (s *Service) Undo(ctx context.Context, documentID string) (map[string]any, error) {
	return s.step(ctx, documentID, func(d *Document) bool { return d.builder.Undo() })
}

func (s *Service) Redo(ctx context.Context, documentID string) (map[string]any, error) {
	return s.step(ctx, documentID, func(d *Document) bool { return d.builder.Redo() })
}

func (s *Service) step(ctx context.Context, documentID string, fn func(d *Document) bool) (map[string]any, error) {
	var payload map[string]any
	err := s.mutate(ctx, documentID, func(d *Document) error {
		applied := fn(d)
		undo, redo := d.builder.Labels()
		payload = map[string]any{
			"applied": applied,
			"history": historyPayload(undo, redo),
		}
		return nil
	})
	return payload, err
}

func (s *Service) History(ctx context.Context, documentID string) (map[string]any, error) {
	var payload map[string]any
	err := s.read(ctx, documentID, func(d *Document) error {
		undo, redo := d.builder.Labels()
		payload = historyPayload(undo, redo)
		return nil
	})
	return payload, err
}

// EditState applies builder state edits given in the mutations wire form.
// Every key becomes its own undoable step, applied in sorted key order.
func (s *Service) EditState(ctx context.Context, documentID string, mutations map[string]any) (map[string]any, error) {
	if len(mutations) == 0 {
		return nil, validationError("mutations are required")
	}
	keys := make([]string, 0, len(mutations))
	for key := range mutations {
		if len(key) < 2 || (key[0] != '+' && key[0] != '-') {
			return nil, fmt.Errorf("%w: bad mutation key %q", state.ErrPatchShape, key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	d, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	prior := d.mirror.Snapshot()
	// One bad key rejects the whole edit; rehearse it on a copy first.
	scratch := state.NewMirror()
	if err := scratch.Load(prior); err != nil {
		return nil, err
	}
	for _, key := range keys {
		var err error
		if key[0] == '-' {
			_, err = scratch.Delete(key[1:])
		} else {
			_, err = scratch.Set(key[1:], mutations[key])
		}
		if err != nil {
			return nil, err
		}
	}

	for _, key := range keys {
		value := mutations[key]
		if key[0] == '-' {
			value = state.Removed
		}
		if err := d.builder.EditState(key[1:], value); err != nil {
			d.dirty = true
			return nil, err
		}
	}
	d.dirty = true
	applied, err := state.EncodeMutations(state.ComputeOutgoing(prior, d.mirror.Snapshot()))
	if err != nil {
		return nil, err
	}
	undo, redo := d.builder.Labels()
	return map[string]any{
		"mutations": applied,
		"history":   historyPayload(undo, redo),
	}, nil
}
