package client

import (
	"sync"

	"canvas/api/internal/catalog"
	"canvas/api/internal/component"
)

// lockedTree guards the read-only component copy shared by the read loop,
// the broker and the evaluator.
type lockedTree struct {
	mu    sync.RWMutex
	store *component.Store
}

func (t *lockedTree) Lookup(id string) (component.Component, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.Lookup(id)
}

func (t *lockedTree) Definition(typ string) (catalog.Definition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.Definition(typ)
}

func (t *lockedTree) Snapshot() []component.Component {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.Snapshot()
}

func (t *lockedTree) Replace(components []component.Component) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Replace(components)
}

// replaceAndDiff swaps the tree and returns the ids that are gone.
func (t *lockedTree) replaceAndDiff(components []component.Component) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	before := t.store.Snapshot()
	if err := t.store.Replace(components); err != nil {
		return nil, err
	}
	var removed []string
	for _, c := range before {
		if !t.store.Has(c.ID) {
			removed = append(removed, c.ID)
		}
	}
	return removed, nil
}
