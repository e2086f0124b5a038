package component

import (
	"fmt"

	"canvas/api/internal/history"
)

// NewAddCommand inserts c under c.ParentID. A negative position appends after
// the current last sibling.
func NewAddCommand(s *Store, c Component) history.Command {
	return &addCommand{store: s, comp: c.Clone()}
}

type addCommand struct {
	store *Store
	comp  Component
	seq   uint64
}

func (cmd *addCommand) Label() string { return fmt.Sprintf("Add %s", cmd.comp.Type) }

func (cmd *addCommand) Do() error {
	s := cmd.store
	c := cmd.comp
	if c.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidParent)
	}
	if s.Has(c.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, c.ID)
	}
	if s.catalog != nil {
		if _, ok := s.catalog.Definition(c.Type); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownType, c.Type)
		}
	}
	if err := s.checkPlacement(c.ID, c.Type, c.ParentID); err != nil {
		return err
	}
	if err := s.checkContent(c.Type, c.Content); err != nil {
		return err
	}
	if err := s.checkBinding(c.Type, c.Binding); err != nil {
		return err
	}
	if c.Position < 0 {
		c.Position = s.nextPosition(c.ParentID, "")
		cmd.comp.Position = c.Position
	}
	if cmd.seq == 0 {
		cmd.seq = s.nextSeq()
	}
	s.insert(c.Clone(), cmd.seq)
	return nil
}

func (cmd *addCommand) Undo() error {
	s := cmd.store
	if len(s.children[cmd.comp.ID]) > 0 {
		return fmt.Errorf("undo add %s: component still has children", cmd.comp.ID)
	}
	s.remove(cmd.comp.ID)
	return nil
}

// NewDeleteCommand removes a component and its entire subtree.
func NewDeleteCommand(s *Store, id string) history.Command {
	return &deleteCommand{store: s, id: id}
}

type deleteCommand struct {
	store   *Store
	id      string
	removed []record
}

func (cmd *deleteCommand) Label() string { return "Delete component" }

func (cmd *deleteCommand) Do() error {
	s := cmd.store
	rec, ok := s.records[cmd.id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cmd.id)
	}
	if s.IsRootType(rec.c.Type) {
		return fmt.Errorf("%w: %s", ErrRootDeletion, cmd.id)
	}
	ids := s.subtreeIDs(cmd.id)
	cmd.removed = make([]record, 0, len(ids))
	for _, id := range ids {
		r := s.records[id]
		cmd.removed = append(cmd.removed, record{c: r.c.Clone(), seq: r.seq})
	}
	// Leaves first so every unlink finds its parent's index intact.
	for i := len(ids) - 1; i >= 0; i-- {
		s.remove(ids[i])
	}
	return nil
}

func (cmd *deleteCommand) Undo() error {
	s := cmd.store
	if len(cmd.removed) == 0 {
		return fmt.Errorf("undo delete %s: nothing captured", cmd.id)
	}
	top := cmd.removed[0].c
	if !s.IsRootType(top.Type) && !s.Has(top.ParentID) {
		return fmt.Errorf("undo delete %s: parent %s is gone", cmd.id, top.ParentID)
	}
	for _, r := range cmd.removed {
		s.insert(r.c.Clone(), r.seq)
	}
	return nil
}

// DeletedIDs returns the ids removed by a delete command's last Do, in pre-order.
func DeletedIDs(cmd history.Command) []string {
	del, ok := cmd.(*deleteCommand)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(del.removed))
	for _, r := range del.removed {
		ids = append(ids, r.c.ID)
	}
	return ids
}

// NewMoveCommand reparents and/or reorders a component. A negative position
// appends after the new siblings.
func NewMoveCommand(s *Store, id, parentID string, position int) history.Command {
	return &moveCommand{store: s, id: id, parentID: parentID, position: position}
}

type moveCommand struct {
	store    *Store
	id       string
	parentID string
	position int

	prevParent   string
	prevPosition int
	prevSeq      uint64
	newSeq       uint64
}

func (cmd *moveCommand) Label() string { return "Move component" }

func (cmd *moveCommand) Do() error {
	s := cmd.store
	rec, ok := s.records[cmd.id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cmd.id)
	}
	if s.IsRootType(rec.c.Type) {
		return fmt.Errorf("%w: %s", ErrRootMove, cmd.id)
	}
	if cmd.parentID != "" && s.IsDescendant(cmd.parentID, cmd.id) {
		return fmt.Errorf("%w: %s into %s", ErrCycle, cmd.id, cmd.parentID)
	}
	if err := s.checkPlacement(cmd.id, rec.c.Type, cmd.parentID); err != nil {
		return err
	}

	cmd.prevParent = rec.c.ParentID
	cmd.prevPosition = rec.c.Position
	cmd.prevSeq = rec.seq

	position := cmd.position
	if position < 0 {
		position = s.nextPosition(cmd.parentID, cmd.id)
	}
	if cmd.newSeq == 0 {
		cmd.newSeq = s.nextSeq()
	}

	s.unlink(rec)
	rec.c.ParentID = cmd.parentID
	rec.c.Position = position
	rec.seq = cmd.newSeq
	s.link(rec)
	return nil
}

func (cmd *moveCommand) Undo() error {
	s := cmd.store
	rec, ok := s.records[cmd.id]
	if !ok {
		return fmt.Errorf("undo move: %w: %s", ErrNotFound, cmd.id)
	}
	if !s.Has(cmd.prevParent) {
		return fmt.Errorf("undo move %s: parent %s is gone", cmd.id, cmd.prevParent)
	}
	s.unlink(rec)
	rec.c.ParentID = cmd.prevParent
	rec.c.Position = cmd.prevPosition
	rec.seq = cmd.prevSeq
	s.link(rec)
	return nil
}

// NewContentCommand merges patch into the component's content. An empty value
// removes the field. Single-field edits coalesce per (component, field).
func NewContentCommand(s *Store, id string, patch map[string]string) history.Command {
	return &contentCommand{store: s, id: id, patch: cloneStrings(patch)}
}

type contentCommand struct {
	store *Store
	id    string
	patch map[string]string
	prev  map[string]*string
}

func (cmd *contentCommand) Label() string {
	if key, ok := cmd.singleField(); ok {
		return fmt.Sprintf("Edit %s", key)
	}
	return "Edit content"
}

func (cmd *contentCommand) singleField() (string, bool) {
	if len(cmd.patch) != 1 {
		return "", false
	}
	for key := range cmd.patch {
		return key, true
	}
	return "", false
}

func (cmd *contentCommand) MergeKey() string {
	key, ok := cmd.singleField()
	if !ok {
		return ""
	}
	return "content:" + cmd.id + ":" + key
}

func (cmd *contentCommand) Merge(next history.Command) bool {
	other, ok := next.(*contentCommand)
	if !ok || other.MergeKey() == "" || other.MergeKey() != cmd.MergeKey() {
		return false
	}
	cmd.patch = cloneStrings(other.patch)
	return true
}

func (cmd *contentCommand) Do() error {
	s := cmd.store
	rec, ok := s.records[cmd.id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cmd.id)
	}
	if err := s.checkContent(rec.c.Type, cmd.patch); err != nil {
		return err
	}
	cmd.prev = make(map[string]*string, len(cmd.patch))
	for key, value := range cmd.patch {
		if old, had := rec.c.Content[key]; had {
			old := old
			cmd.prev[key] = &old
		} else {
			cmd.prev[key] = nil
		}
		if value == "" {
			delete(rec.c.Content, key)
			continue
		}
		rec.c.Content[key] = value
	}
	return nil
}

func (cmd *contentCommand) Undo() error {
	rec, ok := cmd.store.records[cmd.id]
	if !ok {
		return fmt.Errorf("undo content: %w: %s", ErrNotFound, cmd.id)
	}
	for key, old := range cmd.prev {
		if old == nil {
			delete(rec.c.Content, key)
			continue
		}
		rec.c.Content[key] = *old
	}
	return nil
}

// NewHandlerCommand sets the handler reference for an event; an empty
// reference removes it.
func NewHandlerCommand(s *Store, id, event, handlerRef string) history.Command {
	return &handlerCommand{store: s, id: id, event: event, ref: handlerRef}
}

type handlerCommand struct {
	store *Store
	id    string
	event string
	ref   string
	prev  *string
}

func (cmd *handlerCommand) Label() string { return fmt.Sprintf("Set %s handler", cmd.event) }

func (cmd *handlerCommand) Do() error {
	s := cmd.store
	rec, ok := s.records[cmd.id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cmd.id)
	}
	if cmd.event == "" {
		return fmt.Errorf("%w: empty event name", ErrInvalidContent)
	}
	if def, ok := s.Definition(rec.c.Type); ok {
		if _, ok := def.Events[cmd.event]; !ok {
			return fmt.Errorf("%w: %s does not emit %s", ErrInvalidContent, rec.c.Type, cmd.event)
		}
	}
	cmd.prev = nil
	if old, had := rec.c.Handlers[cmd.event]; had {
		cmd.prev = &old
	}
	if cmd.ref == "" {
		delete(rec.c.Handlers, cmd.event)
		return nil
	}
	rec.c.Handlers[cmd.event] = cmd.ref
	return nil
}

func (cmd *handlerCommand) Undo() error {
	rec, ok := cmd.store.records[cmd.id]
	if !ok {
		return fmt.Errorf("undo handler: %w: %s", ErrNotFound, cmd.id)
	}
	if cmd.prev == nil {
		delete(rec.c.Handlers, cmd.event)
		return nil
	}
	rec.c.Handlers[cmd.event] = *cmd.prev
	return nil
}

// NewBindingCommand sets or, with a nil binding, clears the state binding.
func NewBindingCommand(s *Store, id string, binding *Binding) history.Command {
	var b *Binding
	if binding != nil {
		copied := *binding
		b = &copied
	}
	return &bindingCommand{store: s, id: id, binding: b}
}

type bindingCommand struct {
	store   *Store
	id      string
	binding *Binding
	prev    *Binding
}

func (cmd *bindingCommand) Label() string { return "Set binding" }

func (cmd *bindingCommand) Do() error {
	s := cmd.store
	rec, ok := s.records[cmd.id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cmd.id)
	}
	if err := s.checkBinding(rec.c.Type, cmd.binding); err != nil {
		return err
	}
	cmd.prev = rec.c.Binding
	if cmd.binding == nil {
		rec.c.Binding = nil
		return nil
	}
	next := *cmd.binding
	rec.c.Binding = &next
	return nil
}

func (cmd *bindingCommand) Undo() error {
	rec, ok := cmd.store.records[cmd.id]
	if !ok {
		return fmt.Errorf("undo binding: %w: %s", ErrNotFound, cmd.id)
	}
	rec.c.Binding = cmd.prev
	return nil
}

func NewVisibilityCommand(s *Store, id string, visible Visibility) history.Command {
	return &visibilityCommand{store: s, id: id, visible: visible}
}

type visibilityCommand struct {
	store   *Store
	id      string
	visible Visibility
	prev    Visibility
}

func (cmd *visibilityCommand) Label() string { return "Set visibility" }

func (cmd *visibilityCommand) Do() error {
	rec, ok := cmd.store.records[cmd.id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cmd.id)
	}
	cmd.prev = rec.c.Visible
	rec.c.Visible = cmd.visible
	return nil
}

func (cmd *visibilityCommand) Undo() error {
	rec, ok := cmd.store.records[cmd.id]
	if !ok {
		return fmt.Errorf("undo visibility: %w: %s", ErrNotFound, cmd.id)
	}
	rec.c.Visible = cmd.prev
	return nil
}
