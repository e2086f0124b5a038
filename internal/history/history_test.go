package history

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

type appendCmd struct {
	log   *[]string
	value string
	fail  bool
}

func (c *appendCmd) Do() error {
	if c.fail {
		return errors.New("rejected")
	}
	*c.log = append(*c.log, c.value)
	return nil
}

func (c *appendCmd) Undo() error {
	*c.log = (*c.log)[:len(*c.log)-1]
	return nil
}

func (c *appendCmd) Label() string { return "append " + c.value }

// setCmd sets a field; consecutive sets of the same key coalesce.
type setCmd struct {
	fields map[string]string
	key    string
	prev   string
	next   string
}

func (c *setCmd) Do() error {
	c.prev = c.fields[c.key]
	c.fields[c.key] = c.next
	return nil
}

func (c *setCmd) Undo() error {
	c.fields[c.key] = c.prev
	return nil
}

func (c *setCmd) Label() string    { return "set " + c.key }
func (c *setCmd) MergeKey() string { return c.key }

func (c *setCmd) Merge(next Command) bool {
	other, ok := next.(*setCmd)
	if !ok || other.key != c.key {
		return false
	}
	c.next = other.next
	return true
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestUndoRedoAtBoundariesAreNoOps(t *testing.T) {
	h := New()
	if h.Undo() || h.Redo() {
		t.Fatal("expected no-ops on empty history")
	}

	var log []string
	if err := h.Push(&appendCmd{log: &log, value: "a"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if h.Redo() {
		t.Fatal("redo should be a no-op right after push")
	}
	if !h.Undo() {
		t.Fatal("expected undo to succeed")
	}
	if h.Undo() {
		t.Fatal("second undo should be a no-op")
	}
	if len(log) != 0 {
		t.Fatalf("expected empty log, got %v", log)
	}
	if !h.Redo() || !reflect.DeepEqual(log, []string{"a"}) {
		t.Fatalf("expected redo to restore, got %v", log)
	}
}

func TestPushAfterUndoInvalidatesRedo(t *testing.T) {
	h := New()
	var log []string
	_ = h.Push(&appendCmd{log: &log, value: "a"})
	_ = h.Push(&appendCmd{log: &log, value: "b"})
	h.Undo()
	if !h.CanRedo() {
		t.Fatal("expected redo available after undo")
	}
	_ = h.Push(&appendCmd{log: &log, value: "c"})
	if h.Redo() {
		t.Fatal("redo should be a no-op after a new push")
	}
	if !reflect.DeepEqual(log, []string{"a", "c"}) {
		t.Fatalf("unexpected log %v", log)
	}
}

func TestFailedPushLeavesHistoryUntouched(t *testing.T) {
	h := New()
	var log []string
	_ = h.Push(&appendCmd{log: &log, value: "a"})
	h.Undo()

	if err := h.Push(&appendCmd{log: &log, value: "x", fail: true}); err == nil {
		t.Fatal("expected push error")
	}
	if !h.CanRedo() {
		t.Fatal("failed push must not clear the redo stack")
	}
	if h.CanUndo() {
		t.Fatal("failed push must not be recorded")
	}
}

func TestCoalescingWithinWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	h := New(WithCoalesceWindow(time.Second), WithClock(clock.Now))
	fields := map[string]string{"text": ""}

	for _, value := range []string{"H", "He", "Hel", "Hell", "Hello"} {
		clock.Advance(200 * time.Millisecond)
		if err := h.Push(&setCmd{fields: fields, key: "text", next: value}); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	if fields["text"] != "Hello" {
		t.Fatalf("expected Hello, got %q", fields["text"])
	}

	h.Undo()
	if fields["text"] != "" {
		t.Fatalf("one undo should revert the whole burst, got %q", fields["text"])
	}
	if h.CanUndo() {
		t.Fatal("expected a single coalesced entry")
	}
	h.Redo()
	if fields["text"] != "Hello" {
		t.Fatalf("redo should restore the whole burst, got %q", fields["text"])
	}
}

func TestCoalescingResets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	h := New(WithCoalesceWindow(time.Second), WithClock(clock.Now))
	fields := map[string]string{}

	_ = h.Push(&setCmd{fields: fields, key: "a", next: "1"})
	_ = h.Push(&setCmd{fields: fields, key: "b", next: "1"})
	_ = h.Push(&setCmd{fields: fields, key: "a", next: "2"})
	clock.Advance(2 * time.Second)
	_ = h.Push(&setCmd{fields: fields, key: "a", next: "3"})

	undo, _ := h.Labels()
	if len(undo) != 4 {
		t.Fatalf("expected 4 separate entries, got %v", undo)
	}
	h.Undo()
	if fields["a"] != "2" {
		t.Fatalf("expected a=2 after one undo, got %q", fields["a"])
	}
}

func TestUndoneEntryDoesNotCoalesce(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	h := New(WithClock(clock.Now))
	fields := map[string]string{}

	_ = h.Push(&setCmd{fields: fields, key: "a", next: "1"})
	_ = h.Push(&setCmd{fields: fields, key: "b", next: "1"})
	h.Undo()
	h.Redo()
	_ = h.Push(&setCmd{fields: fields, key: "b", next: "2"})

	undo, _ := h.Labels()
	if len(undo) != 3 {
		t.Fatalf("expected redone entry to stay separate, got %v", undo)
	}
}

func TestLimit(t *testing.T) {
	h := New(WithLimit(2))
	var log []string
	for _, v := range []string{"a", "b", "c"} {
		_ = h.Push(&appendCmd{log: &log, value: v})
	}
	undo, _ := h.Labels()
	if !reflect.DeepEqual(undo, []string{"append c", "append b"}) {
		t.Fatalf("unexpected labels %v", undo)
	}
	h.Clear()
	if h.CanUndo() || h.CanRedo() {
		t.Fatal("expected cleared history")
	}
}
