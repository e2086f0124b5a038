package state

import (
	"encoding/json"
	"errors"
	"testing"

	"canvas/api/internal/history"

	"github.com/google/go-cmp/cmp"
)

func newMirror(t *testing.T, snapshot map[string]any) *Mirror {
	t.Helper()
	m := NewMirror()
	if err := m.Load(snapshot); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return m
}

func TestApplyIncomingIsIdempotent(t *testing.T) {
	patches := []Patch{
		{"counter": 27},
		{"list": []any{"A", "X", "C"}},
		{"nested": map[string]any{"c": map[string]any{"e": Removed}}},
		{"a": Patch{"b": Patch{"c": true}}},
		{"gone": Removed, "fresh": nil},
	}
	for _, p := range patches {
		once := newMirror(t, map[string]any{"counter": 26, "gone": "x", "nested": map[string]any{"c": map[string]any{"d": 3, "e": 4}}})
		twice := newMirror(t, once.Snapshot())
		if err := once.ApplyIncoming(p); err != nil {
			t.Fatalf("ApplyIncoming(%v) error = %v", p, err)
		}
		for i := 0; i < 2; i++ {
			if err := twice.ApplyIncoming(p); err != nil {
				t.Fatalf("ApplyIncoming(%v) error = %v", p, err)
			}
		}
		if diff := cmp.Diff(once.Snapshot(), twice.Snapshot()); diff != "" {
			t.Fatalf("patch %v is not idempotent (-once +twice):\n%s", p, diff)
		}
	}
}

func TestApplyIncomingCreatesIntermediateMaps(t *testing.T) {
	m := NewMirror()
	if err := m.ApplyIncoming(Patch{"a": map[string]any{"b": map[string]any{"c": "deep"}}}); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}
	got, ok := m.Get("a.b.c")
	if !ok || got != "deep" {
		t.Fatalf("expected deep, got %v (%v)", got, ok)
	}
}

func TestListIsReplacedWhole(t *testing.T) {
	m := newMirror(t, map[string]any{"list": []any{"A", "B", "C"}})
	if err := m.ApplyIncoming(Patch{"list": []any{"A", "X", "C"}}); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}
	if got, _ := m.Get("list.1"); got != "X" {
		t.Fatalf("expected X, got %v", got)
	}
	if err := m.ApplyIncoming(Patch{"list": []any{"only"}}); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}
	if got, _ := m.Get("list"); !cmp.Equal(got, []any{"only"}) {
		t.Fatalf("expected the whole sequence to be replaced, got %v", got)
	}
}

func TestNestedRemoval(t *testing.T) {
	m := newMirror(t, map[string]any{"nested": map[string]any{"a": 1, "b": 2, "c": map[string]any{"d": 3, "e": 4}}})
	if err := m.ApplyIncoming(Patch{"nested": Patch{"c": Patch{"e": Removed}}}); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}
	got, _ := m.Get("nested.c")
	if diff := cmp.Diff(map[string]any{"d": 3}, got); diff != "" {
		t.Fatalf("unexpected nested.c:\n%s", diff)
	}
}

func TestMalformedPatchLeavesMirrorUntouched(t *testing.T) {
	m := newMirror(t, map[string]any{"a": 1, "b": map[string]any{"c": 2}})
	before := m.Snapshot()

	bad := []Patch{
		{"a": 2, "b": map[string]any{"c": make(chan int)}},
		{"list": []any{"x", Removed}},
		{"a": struct{}{}},
	}
	for _, p := range bad {
		err := m.ApplyIncoming(p)
		if !errors.Is(err, ErrPatchShape) {
			t.Fatalf("expected ErrPatchShape, got %v", err)
		}
		if diff := cmp.Diff(before, m.Snapshot()); diff != "" {
			t.Fatalf("rejected patch mutated the mirror:\n%s", diff)
		}
	}
}

func TestPatchIsCopiedOnApply(t *testing.T) {
	list := []any{"A"}
	m := NewMirror()
	if err := m.ApplyIncoming(Patch{"list": list}); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}
	list[0] = "mutated"
	if got, _ := m.Get("list.0"); got != "A" {
		t.Fatalf("mirror shares memory with the patch, got %v", got)
	}
}

func TestComputeOutgoingRoundTrip(t *testing.T) {
	prior := map[string]any{
		"counter": 1,
		"gone":    "x",
		"list":    []any{1, 2},
		"nested":  map[string]any{"keep": true, "drop": 1, "deep": map[string]any{"x": 1}},
		"same":    map[string]any{"v": "s"},
	}
	next := map[string]any{
		"counter": 2,
		"list":    []any{1, 2, 3},
		"nested":  map[string]any{"keep": true, "deep": map[string]any{"x": 2}},
		"same":    map[string]any{"v": "s"},
		"added":   map[string]any{},
	}
	patch := ComputeOutgoing(prior, next)
	want := Patch{
		"counter": 2,
		"gone":    Removed,
		"list":    []any{1, 2, 3},
		"nested":  map[string]any{"drop": Removed, "deep": map[string]any{"x": 2}},
		"added":   map[string]any{},
	}
	if diff := cmp.Diff(want, patch, cmp.Comparer(func(a, b removed) bool { return true })); diff != "" {
		t.Fatalf("unexpected patch (-want +got):\n%s", diff)
	}

	m := newMirror(t, prior)
	if err := m.ApplyIncoming(patch); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}
	if diff := cmp.Diff(next, m.Snapshot()); diff != "" {
		t.Fatalf("applying the diff did not reproduce next:\n%s", diff)
	}
}

func TestSetAndDelete(t *testing.T) {
	m := newMirror(t, map[string]any{"list": []any{map[string]any{"name": "a"}, "b"}})

	patch, err := m.Set("list.0.name", "z")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok := patch["list"].([]any); !ok {
		t.Fatalf("writes through a sequence should send the whole sequence, got %#v", patch)
	}
	if got, _ := m.Get("list.0.name"); got != "z" {
		t.Fatalf("expected z, got %v", got)
	}
	if _, err := m.Set("list.5", "x"); !errors.Is(err, ErrPatchShape) {
		t.Fatalf("expected out of range error, got %v", err)
	}
	if _, err := m.Set("a..b", 1); !errors.Is(err, ErrPatchShape) {
		t.Fatalf("expected invalid path error, got %v", err)
	}
	if _, err := m.Set(`dotted\.key.x`, 1); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	snapshot := m.Snapshot()
	if _, ok := snapshot["dotted.key"].(map[string]any); !ok {
		t.Fatalf("expected literal dotted key, got %#v", snapshot)
	}

	patch, err = m.Delete("list.1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := m.Get("list"); len(got.([]any)) != 1 {
		t.Fatalf("expected one element left, got %v", got)
	}
	if len(patch) != 1 {
		t.Fatalf("unexpected delete patch %#v", patch)
	}
	patch, err = m.Delete("missing.key")
	if err != nil || len(patch) != 0 {
		t.Fatalf("deleting a missing key should be a no-op, got %v %v", patch, err)
	}
}

func TestSplitPath(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "counter", want: []string{"counter"}},
		{in: "nested.c.e", want: []string{"nested", "c", "e"}},
		{in: `a\.b.c`, want: []string{"a.b", "c"}},
		{in: "a..b", want: []string{"a", "", "b"}},
		{in: `a\\.b`, want: []string{`a\`, "b"}},
		{in: `a\b`, want: []string{`a\b`}},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, SplitPath(tc.in)); diff != "" {
			t.Errorf("SplitPath(%q) mismatch:\n%s", tc.in, diff)
		}
	}
	if got := PathKey("a.b", "c"); got != `a\.b.c` {
		t.Fatalf("PathKey() = %q", got)
	}
}

func TestMutationsRoundTrip(t *testing.T) {
	patch := Patch{
		"counter": 3,
		"user":    map[string]any{"name": "Ada", "tags": []any{"x"}, "old": Removed},
		"a.b":     "dotted",
		"empty":   map[string]any{},
	}
	encoded, err := EncodeMutations(patch)
	if err != nil {
		t.Fatalf("EncodeMutations() error = %v", err)
	}
	want := map[string]any{
		"+counter":   3,
		"+user.name": "Ada",
		"+user.tags": []any{"x"},
		"-user.old":  nil,
		`+a\.b`:      "dotted",
		"+empty":     map[string]any{},
	}
	if diff := cmp.Diff(want, encoded); diff != "" {
		t.Fatalf("unexpected mutations (-want +got):\n%s", diff)
	}

	raw, err := json.Marshal(encoded)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded, err := DecodeMutations(wire)
	if err != nil {
		t.Fatalf("DecodeMutations() error = %v", err)
	}

	m := newMirror(t, map[string]any{"user": map[string]any{"old": 1, "keep": true}})
	if err := m.ApplyIncoming(decoded); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}
	wantState := map[string]any{
		"counter": float64(3),
		"user":    map[string]any{"name": "Ada", "tags": []any{"x"}, "keep": true},
		"a.b":     "dotted",
		"empty":   map[string]any{},
	}
	if diff := cmp.Diff(wantState, m.Snapshot()); diff != "" {
		t.Fatalf("unexpected state (-want +got):\n%s", diff)
	}
}

func TestMutationsRoundTripBackslashKeys(t *testing.T) {
	snapshot := map[string]any{
		"k": map[string]any{
			`a\`:  map[string]any{"b": float64(1)},
			`x\.y`: "both",
		},
	}
	encoded, err := EncodeMutations(ComputeOutgoing(map[string]any{}, snapshot))
	if err != nil {
		t.Fatalf("EncodeMutations() error = %v", err)
	}
	decoded, err := DecodeMutations(encoded)
	if err != nil {
		t.Fatalf("DecodeMutations(%v) error = %v", encoded, err)
	}
	m := NewMirror()
	if err := m.ApplyIncoming(decoded); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}
	if diff := cmp.Diff(snapshot, m.Snapshot()); diff != "" {
		t.Fatalf("state did not survive the wire form (-want +got):\n%s", diff)
	}
}

func TestEmptyKeysAreRejected(t *testing.T) {
	m := newMirror(t, map[string]any{"form": map[string]any{"ok": 1}})
	before := m.Snapshot()

	if _, err := m.Set("form", map[string]any{"": "blank", "ok": 2}); !errors.Is(err, ErrPatchShape) {
		t.Fatalf("Set() with an empty key error = %v, want ErrPatchShape", err)
	}
	if err := m.ApplyIncoming(Patch{"form": map[string]any{"": 1}}); !errors.Is(err, ErrPatchShape) {
		t.Fatalf("ApplyIncoming() with an empty key error = %v, want ErrPatchShape", err)
	}
	if _, err := EncodeMutations(Patch{"form": map[string]any{"": 1}}); !errors.Is(err, ErrPatchShape) {
		t.Fatalf("EncodeMutations() with an empty key error = %v, want ErrPatchShape", err)
	}
	if diff := cmp.Diff(before, m.Snapshot()); diff != "" {
		t.Fatalf("rejected writes changed the mirror (-want +got):\n%s", diff)
	}
}

func TestDecodeMutationsRejectsBadKeys(t *testing.T) {
	bad := []map[string]any{
		{"counter": 1},
		{"+": 1},
		{"+a..b": 1},
		{"+a": 1, "+a.b": 2},
	}
	for _, mutations := range bad {
		if _, err := DecodeMutations(mutations); !errors.Is(err, ErrPatchShape) {
			t.Errorf("DecodeMutations(%v) expected ErrPatchShape, got %v", mutations, err)
		}
	}
}

func TestReplicaReassertsPendingEdits(t *testing.T) {
	r := NewReplica()
	if err := r.Load(map[string]any{"name": "server", "count": 1}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := r.SetLocal("name", "typing"); err != nil {
		t.Fatalf("SetLocal() error = %v", err)
	}

	if err := r.ApplyIncoming(Patch{"name": "stale", "count": 2}); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}
	if got, _ := r.Get("name"); got != "typing" {
		t.Fatalf("pending edit was overwritten, got %v", got)
	}
	if got, _ := r.Get("count"); got != 2 {
		t.Fatalf("unrelated key not applied, got %v", got)
	}

	r.Confirm("name", "typing")
	if len(r.Pending()) != 0 {
		t.Fatalf("expected no pending edits, got %v", r.Pending())
	}
	if err := r.ApplyIncoming(Patch{"name": "final"}); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}
	if got, _ := r.Get("name"); got != "final" {
		t.Fatalf("expected confirmed value to follow the server, got %v", got)
	}
}

func TestReplicaConfirmKeepsNewerEdit(t *testing.T) {
	r := NewReplica()
	if err := r.SetLocal("name", "A"); err != nil {
		t.Fatalf("SetLocal() error = %v", err)
	}
	if err := r.SetLocal("name", "Ad"); err != nil {
		t.Fatalf("SetLocal() error = %v", err)
	}

	// The ack for "A" arrives after "Ad" was typed.
	r.Confirm("name", "A")
	if diff := cmp.Diff([]string{"name"}, r.Pending()); diff != "" {
		t.Fatalf("newer edit was confirmed early (-want +got):\n%s", diff)
	}
	if err := r.ApplyIncoming(Patch{"name": "A"}); err != nil {
		t.Fatalf("ApplyIncoming() error = %v", err)
	}
	if got, _ := r.Get("name"); got != "Ad" {
		t.Fatalf("expected the newer local value to win, got %v", got)
	}

	r.Confirm("name", "Ad")
	if len(r.Pending()) != 0 {
		t.Fatalf("expected no pending edits, got %v", r.Pending())
	}
}

func TestEditCommandUndo(t *testing.T) {
	m := newMirror(t, map[string]any{"title": "Draft"})
	var sent []Patch
	h := history.New()

	for _, v := range []string{"D", "Do", "Done"} {
		if err := h.Push(NewEditCommand(m, "title", v, func(p Patch) { sent = append(sent, p) })); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	if err := h.Push(NewEditCommand(m, "fresh", 1, nil)); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	h.Undo()
	if _, ok := m.Get("fresh"); ok {
		t.Fatal("expected fresh to be removed on undo")
	}
	h.Undo()
	if got, _ := m.Get("title"); got != "Draft" {
		t.Fatalf("expected coalesced edits to undo at once, got %v", got)
	}
	if len(sent) != 4 {
		t.Fatalf("expected 4 outgoing patches, got %d", len(sent))
	}
	if diff := cmp.Diff(Patch{"title": "Draft"}, sent[3]); diff != "" {
		t.Fatalf("unexpected undo patch:\n%s", diff)
	}
}
