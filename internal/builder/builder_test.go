package builder

import (
	"errors"
	"testing"
	"time"

	"canvas/api/internal/catalog"
	"canvas/api/internal/component"
	"canvas/api/internal/history"
	"canvas/api/internal/state"

	"github.com/google/go-cmp/cmp"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestBuilder(t *testing.T) (*Builder, *fakeClock, *state.Mirror, *[]state.Patch) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	m := state.NewMirror()
	var sent []state.Patch
	b := New(
		component.NewStore(component.WithCatalog(catalog.Builtin())),
		history.New(history.WithClock(clock.Now)),
		WithState(m, func(p state.Patch) { sent = append(sent, p) }),
	)
	for _, c := range []component.Component{
		{ID: "root", Type: "root"},
		{ID: "page", Type: "page", ParentID: "root", Position: -1},
		{ID: "section", Type: "section", ParentID: "page", Position: -1},
		{ID: "text", Type: "text", ParentID: "section", Position: -1},
	} {
		if err := b.AddComponent(c); err != nil {
			t.Fatalf("AddComponent(%s) error = %v", c.ID, err)
		}
	}
	return b, clock, m, &sent
}

func TestUndoRedoBoundaries(t *testing.T) {
	b := New(component.NewStore(), nil)
	if b.Undo() || b.Redo() {
		t.Fatal("expected no-ops on empty history")
	}
}

func TestRedoInvalidatedByNewAction(t *testing.T) {
	b, _, _, _ := newTestBuilder(t)
	if err := b.SetContent("text", map[string]string{"text": "one"}); err != nil {
		t.Fatalf("SetContent() error = %v", err)
	}
	if !b.Undo() {
		t.Fatal("expected undo")
	}
	if err := b.SetContent("section", map[string]string{"title": "Title"}); err != nil {
		t.Fatalf("SetContent() error = %v", err)
	}
	if b.Redo() {
		t.Fatal("expected redo to be a no-op after a new action")
	}
}

func TestDeleteAndUndoRestoresSubtree(t *testing.T) {
	b, _, _, _ := newTestBuilder(t)
	before := b.Snapshot()

	removed, err := b.DeleteComponent("section")
	if err != nil {
		t.Fatalf("DeleteComponent() error = %v", err)
	}
	if diff := cmp.Diff([]string{"section", "text"}, removed); diff != "" {
		t.Fatalf("unexpected removed ids:\n%s", diff)
	}
	if _, err := b.Get("text"); !errors.Is(err, component.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	b.Undo()
	if diff := cmp.Diff(before, b.Snapshot()); diff != "" {
		t.Fatalf("undo delete did not restore the tree:\n%s", diff)
	}
	b.Redo()
	if b.store.Has("section") {
		t.Fatal("expected redo to delete again")
	}
}

func TestRejectedOperationsDoNotEnterHistory(t *testing.T) {
	b, _, _, _ := newTestBuilder(t)
	undo, _ := b.Labels()

	if err := b.MoveComponent("section", "text", 0); err == nil {
		t.Fatal("expected move into a descendant to fail")
	}
	if _, err := b.DeleteComponent("root"); !errors.Is(err, component.ErrRootDeletion) {
		t.Fatalf("expected root deletion error, got %v", err)
	}
	after, _ := b.Labels()
	if diff := cmp.Diff(undo, after); diff != "" {
		t.Fatalf("rejected operations changed history:\n%s", diff)
	}
}

func TestContentCoalescingWindow(t *testing.T) {
	b, clock, _, _ := newTestBuilder(t)
	for _, v := range []string{"H", "He", "Hey"} {
		clock.now = clock.now.Add(200 * time.Millisecond)
		if err := b.SetContent("text", map[string]string{"text": v}); err != nil {
			t.Fatalf("SetContent() error = %v", err)
		}
	}
	clock.now = clock.now.Add(2 * time.Second)
	if err := b.SetContent("text", map[string]string{"text": "Hey!"}); err != nil {
		t.Fatalf("SetContent() error = %v", err)
	}

	b.Undo()
	c, _ := b.Get("text")
	if c.Content["text"] != "Hey" {
		t.Fatalf("expected the edit after the quiet period to undo alone, got %q", c.Content["text"])
	}
	b.Undo()
	c, _ = b.Get("text")
	if _, ok := c.Content["text"]; ok {
		t.Fatalf("expected the burst to undo at once, got %q", c.Content["text"])
	}
}

func TestEditState(t *testing.T) {
	b, _, m, sent := newTestBuilder(t)
	if err := b.EditState("form.name", "Ada"); err != nil {
		t.Fatalf("EditState() error = %v", err)
	}
	if got, _ := m.Get("form.name"); got != "Ada" {
		t.Fatalf("expected Ada, got %v", got)
	}
	b.Undo()
	if _, ok := m.Get("form.name"); ok {
		t.Fatal("expected undo to remove the key")
	}
	if len(*sent) != 2 {
		t.Fatalf("expected two outgoing patches, got %d", len(*sent))
	}

	bare := New(component.NewStore(), nil)
	if err := bare.EditState("x", 1); !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}
}

func TestReplaceTreeClearsHistory(t *testing.T) {
	b, _, _, _ := newTestBuilder(t)
	err := b.ReplaceTree([]component.Component{
		{ID: "root", Type: "root"},
		{ID: "p", Type: "page", ParentID: "root"},
	})
	if err != nil {
		t.Fatalf("ReplaceTree() error = %v", err)
	}
	if b.CanUndo() || b.CanRedo() {
		t.Fatal("expected history to be cleared")
	}
	if len(b.Children("p")) != 0 || len(b.Children("root")) != 1 {
		t.Fatalf("unexpected tree %v", b.Snapshot())
	}
}
