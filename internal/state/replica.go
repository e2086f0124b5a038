package state

import (
	"log"
	"reflect"
	"slices"
	"sync"
)

type pendingEdit struct {
	path  string
	value any
}

// Replica is the client-side mirror. Local edits are applied optimistically
// and re-asserted over every incoming patch until the server confirms them.
type Replica struct {
	mu      sync.RWMutex
	mirror  *Mirror
	pending []pendingEdit
}

func NewReplica() *Replica {
	return &Replica{mirror: NewMirror()}
}

// SetLocal writes value at path and keeps it pending. Passing Removed deletes.
func (r *Replica) SetLocal(path string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if IsRemoved(value) {
		_, err = r.mirror.Delete(path)
	} else {
		_, err = r.mirror.Set(path, value)
	}
	if err != nil {
		return err
	}
	stored := value
	if !IsRemoved(value) {
		stored = cloneValue(value)
	}
	r.pending = slices.DeleteFunc(r.pending, func(e pendingEdit) bool { return e.path == path })
	r.pending = append(r.pending, pendingEdit{path: path, value: stored})
	return nil
}

// Confirm drops the pending edit for path once the server has acknowledged
// sent. A newer local value at the same path stays pending.
func (r *Replica) Confirm(path string, sent any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = slices.DeleteFunc(r.pending, func(e pendingEdit) bool {
		return e.path == path && reflect.DeepEqual(e.value, sent)
	})
}

// Pending returns the paths still awaiting confirmation, oldest first.
func (r *Replica) Pending() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.pending))
	for _, e := range r.pending {
		paths = append(paths, e.path)
	}
	return paths
}

// ApplyIncoming applies p and then re-asserts pending local edits.
func (r *Replica) ApplyIncoming(p Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.mirror.ApplyIncoming(p); err != nil {
		return err
	}
	for _, e := range r.pending {
		var err error
		if IsRemoved(e.value) {
			_, err = r.mirror.Delete(e.path)
		} else {
			_, err = r.mirror.Set(e.path, e.value)
		}
		if err != nil {
			log.Printf("state: re-assert pending edit %s failed: %v", e.path, err)
		}
	}
	return nil
}

// Load replaces the tree and forgets pending edits.
func (r *Replica) Load(snapshot map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.mirror.Load(snapshot); err != nil {
		return err
	}
	r.pending = nil
	return nil
}

func (r *Replica) Get(path string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mirror.Get(path)
}

func (r *Replica) Lookup(segments []string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mirror.Lookup(segments)
}

func (r *Replica) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mirror.Snapshot()
}
