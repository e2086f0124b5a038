// Package history keeps linear undo/redo stacks of reversible commands.
package history

import (
	"log"
	"time"
)

// Command is a reversible unit of mutation. Do may reject the change, in which
// case nothing was mutated. Commands capture the linkage they need to invert
// themselves when they run, not when they are undone.
type Command interface {
	Do() error
	Undo() error
	Label() string
}

// Mergeable commands can absorb a later command with the same merge key, so a
// burst of edits to one field is undone as a single step.
type Mergeable interface {
	Command
	MergeKey() string
	// Merge folds next, which has already been applied, into the receiver.
	Merge(next Command) bool
}

const DefaultCoalesceWindow = time.Second

type entry struct {
	cmd      Command
	mergeKey string
	lastEdit time.Time
}

type History struct {
	undo   []entry
	redo   []entry
	window time.Duration
	limit  int
	now    func() time.Time
}

type Option func(*History)

// WithCoalesceWindow sets the quiet period after which same-field edits stop merging.
// A zero window disables coalescing.
func WithCoalesceWindow(window time.Duration) Option {
	return func(h *History) { h.window = window }
}

// WithLimit bounds the undo depth; the oldest entries are discarded.
func WithLimit(limit int) Option {
	return func(h *History) { h.limit = limit }
}

func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

func New(opts ...Option) *History {
	h := &History{
		window: DefaultCoalesceWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Push executes cmd and records it. A new action discards the redo branch.
// If Do fails the history is left untouched.
func (h *History) Push(cmd Command) error {
	if err := cmd.Do(); err != nil {
		return err
	}
	h.redo = nil

	now := h.now()
	key := ""
	if m, ok := cmd.(Mergeable); ok {
		key = m.MergeKey()
	}
	if key != "" && h.window > 0 && len(h.undo) > 0 {
		top := &h.undo[len(h.undo)-1]
		if top.mergeKey == key && now.Sub(top.lastEdit) <= h.window {
			if m, ok := top.cmd.(Mergeable); ok && m.Merge(cmd) {
				top.lastEdit = now
				return nil
			}
		}
	}

	h.undo = append(h.undo, entry{cmd: cmd, mergeKey: key, lastEdit: now})
	if h.limit > 0 && len(h.undo) > h.limit {
		h.undo = append([]entry(nil), h.undo[len(h.undo)-h.limit:]...)
	}
	return nil
}

// Undo reverts the most recent command. It is a no-op on an empty stack and
// reports whether anything was undone.
func (h *History) Undo() bool {
	if len(h.undo) == 0 {
		return false
	}
	top := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	if err := top.cmd.Undo(); err != nil {
		log.Printf("history: undo %q failed, entry dropped: %v", top.cmd.Label(), err)
		return false
	}
	// An undone entry never coalesces with later edits.
	top.mergeKey = ""
	h.redo = append(h.redo, top)
	return true
}

// Redo re-applies the most recently undone command.
func (h *History) Redo() bool {
	if len(h.redo) == 0 {
		return false
	}
	top := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	if err := top.cmd.Do(); err != nil {
		log.Printf("history: redo %q failed, entry dropped: %v", top.cmd.Label(), err)
		return false
	}
	h.undo = append(h.undo, top)
	return true
}

func (h *History) CanUndo() bool { return len(h.undo) > 0 }
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// Labels returns the undo and redo labels, most recent first.
func (h *History) Labels() (undo []string, redo []string) {
	undo = make([]string, 0, len(h.undo))
	for i := len(h.undo) - 1; i >= 0; i-- {
		undo = append(undo, h.undo[i].cmd.Label())
	}
	redo = make([]string, 0, len(h.redo))
	for i := len(h.redo) - 1; i >= 0; i-- {
		redo = append(redo, h.redo[i].cmd.Label())
	}
	return undo, redo
}

func (h *History) Clear() {
	h.undo = nil
	h.redo = nil
}
