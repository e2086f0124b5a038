package state

import (
	"fmt"

	"canvas/api/internal/history"
)

// NewEditCommand wraps a builder state edit as an undoable command. Passing
// Removed deletes the path. onChange receives every applied patch so it can be
// sent to the authoritative side; it may be nil.
func NewEditCommand(m *Mirror, path string, value any, onChange func(Patch)) history.Command {
	return &editCommand{mirror: m, path: path, value: value, onChange: onChange}
}

type editCommand struct {
	mirror   *Mirror
	path     string
	value    any
	onChange func(Patch)

	prev    any
	hadPrev bool
}

func (cmd *editCommand) Label() string { return fmt.Sprintf("Edit state %s", cmd.path) }

func (cmd *editCommand) MergeKey() string { return "state:" + cmd.path }

func (cmd *editCommand) Merge(next history.Command) bool {
	other, ok := next.(*editCommand)
	if !ok || other.mirror != cmd.mirror || other.path != cmd.path {
		return false
	}
	cmd.value = other.value
	return true
}

func (cmd *editCommand) Do() error {
	prev, had := cmd.mirror.Get(cmd.path)
	patch, err := cmd.write(cmd.value)
	if err != nil {
		return err
	}
	cmd.prev, cmd.hadPrev = prev, had
	cmd.notify(patch)
	return nil
}

func (cmd *editCommand) Undo() error {
	value := Removed
	if cmd.hadPrev {
		value = cmd.prev
	}
	patch, err := cmd.write(value)
	if err != nil {
		return fmt.Errorf("undo state edit %s: %w", cmd.path, err)
	}
	cmd.notify(patch)
	return nil
}

func (cmd *editCommand) write(value any) (Patch, error) {
	if IsRemoved(value) {
		return cmd.mirror.Delete(cmd.path)
	}
	return cmd.mirror.Set(cmd.path, value)
}

func (cmd *editCommand) notify(p Patch) {
	if cmd.onChange != nil && len(p) > 0 {
		cmd.onChange(p)
	}
}
