package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"canvas/api/internal/gitrepo"
	"canvas/api/internal/search"
	"canvas/api/internal/state"
	"canvas/api/internal/store"
)

const historyLimit = 50

// SaveVersion commits the current tree and state and tags the commit with name.
func (s *Service) SaveVersion(ctx context.Context, documentID, name, author string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("name is required")
	}
	if author = strings.TrimSpace(author); author == "" {
		author = systemAuthor
	}

	d, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	snap := d.snapshot()
	d.dirty = false
	d.mu.Unlock()

	commit, err := s.git.CommitSnapshot(documentID, snap, author, "Save version: "+name)
	if err != nil {
		d.mu.Lock()
		d.dirty = true
		d.mu.Unlock()
		return nil, fmt.Errorf("commit version: %w", err)
	}
	if err := s.git.CreateTag(documentID, commit.Hash, name); err != nil {
		return nil, fmt.Errorf("tag version: %w", err)
	}
	version, err := s.store.InsertVersion(ctx, store.Version{
		DocumentID: documentID,
		Name:       name,
		Hash:       commit.Hash,
		CreatedBy:  author,
	})
	if err != nil {
		return nil, fmt.Errorf("record version: %w", err)
	}
	if err := s.store.TouchDocument(ctx, documentID); err != nil {
		log.Printf("app: touch document %s: %v", documentID, err)
	}
	return map[string]any{"version": version, "commit": commit}, nil
}

// Versions lists the named versions and the recent commit history.
func (s *Service) Versions(ctx context.Context, documentID string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []store.Version{}
	}
	commits, err := s.git.History(documentID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return map[string]any{"versions": versions, "commits": commits}, nil
}

// CompareVersion lists the components that differ between hash and the live
// document.
func (s *Service) CompareVersion(ctx context.Context, documentID, hash string) (map[string]any, error) {
	d, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	from, info, err := s.git.GetSnapshotByHash(documentID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", fmt.Sprintf("version %s not found", hash), nil)
	}
	d.mu.Lock()
	current := d.snapshot()
	d.mu.Unlock()

	changes := gitrepo.DiffComponents(from, current)
	if changes == nil {
		changes = []gitrepo.ComponentChange{}
	}
	return map[string]any{
		"from":         info,
		"changes":      changes,
		"stateChanged": gitrepo.HasChanges(gitrepo.Snapshot{State: from.State}, gitrepo.Snapshot{State: current.State}),
	}, nil
}

// RestoreVersion loads the snapshot at hash (a commit or a tag) into the live
// document. The tree is replaced, which clears undo history; the state is
// replaced and the difference is broadcast as a patch.
func (s *Service) RestoreVersion(ctx context.Context, documentID, hash string) (map[string]any, error) {
	d, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	snap, info, err := s.git.GetSnapshotByHash(documentID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", fmt.Sprintf("version %s not found", hash), nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.builder.ReplaceTree(snap.Components); err != nil {
		return nil, err
	}
	prior := d.mirror.Snapshot()
	if err := d.mirror.Load(snap.State); err != nil {
		return nil, err
	}
	patch := state.ComputeOutgoing(prior, d.mirror.Snapshot())
	d.dirty = true
	d.broadcastComponents()
	d.broadcastPatch(patch, nil)
	s.search.ReindexDocument(documentID, search.ComponentRecords(documentID, snap.Components))

	return map[string]any{
		"restored":   info,
		"components": d.tree.Snapshot(),
		"mutations":  d.fullMutations(),
	}, nil
}
