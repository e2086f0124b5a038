package gitrepo

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"canvas/api/internal/component"

	"github.com/google/go-cmp/cmp"
)

func baseline() Snapshot {
	return Snapshot{
		Components: []component.Component{
			{ID: "root", Type: "root", Content: map[string]string{"appName": "Demo"}},
			{ID: "page", Type: "page", ParentID: "root", Content: map[string]string{}},
		},
		State: map[string]any{"counter": float64(1)},
	}
}

func TestDocumentRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureDocumentRepo("doc-1", baseline(), "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
	if err := svc.EnsureDocumentRepo("doc-1", Snapshot{}, "Avery"); err != nil {
		t.Fatalf("second EnsureDocumentRepo() error = %v", err)
	}

	updated := baseline()
	updated.Components = append(updated.Components, component.Component{ID: "text", Type: "text", ParentID: "page", Content: map[string]string{"text": "Hi"}})
	updated.State["counter"] = float64(2)
	commit, err := svc.CommitSnapshot("doc-1", updated, "Avery", "Add text")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if commit.Hash == "" || commit.Message != "Add text" {
		t.Fatalf("unexpected commit %+v", commit)
	}

	head, headInfo, err := svc.GetHeadSnapshot("doc-1")
	if err != nil {
		t.Fatalf("GetHeadSnapshot() error = %v", err)
	}
	if headInfo.Hash != commit.Hash {
		t.Fatalf("expected head %s, got %s", commit.Hash, headInfo.Hash)
	}
	if diff := cmp.Diff(updated, head); diff != "" {
		t.Fatalf("snapshot did not round trip (-want +got):\n%s", diff)
	}

	history, err := svc.History("doc-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Hash != commit.Hash {
		t.Fatalf("unexpected history %+v", history)
	}

	first, _, err := svc.GetSnapshotByHash("doc-1", history[1].Hash)
	if err != nil {
		t.Fatalf("GetSnapshotByHash() error = %v", err)
	}
	if diff := cmp.Diff(baseline(), first); diff != "" {
		t.Fatalf("unexpected baseline (-want +got):\n%s", diff)
	}
}

func TestTagsResolveAndAppearInHistory(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureDocumentRepo("doc", baseline(), "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	commit, err := svc.CommitSnapshot("doc", baseline(), "Avery", "Save")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if err := svc.CreateTag("doc", commit.Hash, "Release 1"); err != nil {
		t.Fatalf("CreateTag() error = %v", err)
	}
	if err := svc.CreateTag("doc", commit.Hash, "Release 1"); err != nil {
		t.Fatalf("re-creating a tag should be a no-op, got %v", err)
	}

	history, err := svc.History("doc", 1)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if diff := cmp.Diff([]string{"Release-1"}, history[0].Tags); diff != "" {
		t.Fatalf("unexpected tags:\n%s", diff)
	}
	if _, info, err := svc.GetSnapshotByHash("doc", "Release-1"); err != nil || info.Hash != commit.Hash {
		t.Fatalf("expected tag to resolve to %s, got %+v (%v)", commit.Hash, info, err)
	}
}

func TestDiffComponents(t *testing.T) {
	from := baseline()
	to := baseline()
	to.Components[1].Content = map[string]string{"key": "home"}
	to.Components = append(to.Components[:1:1], to.Components[1], component.Component{ID: "new", Type: "text", ParentID: "page"})
	from.Components = append(from.Components, component.Component{ID: "old", Type: "text", ParentID: "page"})

	want := []ComponentChange{
		{ID: "new", Type: "text", Change: "added"},
		{ID: "old", Type: "text", Change: "removed"},
		{ID: "page", Type: "page", Change: "changed"},
	}
	if diff := cmp.Diff(want, DiffComponents(from, to)); diff != "" {
		t.Fatalf("unexpected diff (-want +got):\n%s", diff)
	}
	if !HasChanges(from, to) {
		t.Fatal("expected changes")
	}

	same := baseline()
	same.State = map[string]any{"counter": 1}
	if HasChanges(baseline(), same) {
		t.Fatal("expected int and float state values to compare equal")
	}
}

func TestConcurrentCommitsAreSerialized(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureDocumentRepo("doc", baseline(), "Avery"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CommitSnapshot("doc", baseline(), "Avery", "Save"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	history, err := svc.History("doc", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 9 {
		t.Fatalf("expected 9 commits, got %d", len(history))
	}
}
