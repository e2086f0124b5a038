package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the registry used when no database is configured.
type MemoryStore struct {
	mu        sync.Mutex
	documents map[string]Document
	versions  map[string][]Version
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]Document),
		versions:  make(map[string][]Version),
		now:       time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) ListDocuments(context.Context) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Document, 0, len(s.documents))
	for _, d := range s.documents {
		items = append(items, d)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) GetDocument(_ context.Context, documentID string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok {
		return Document{}, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) InsertDocument(_ context.Context, item Document) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[item.ID]; exists {
		return Document{}, fmt.Errorf("insert document: %s already exists", item.ID)
	}
	now := s.now()
	item.CreatedAt = now
	item.UpdatedAt = now
	s.documents[item.ID] = item
	return item, nil
}

func (s *MemoryStore) TouchDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	d.UpdatedAt = s.now()
	s.documents[documentID] = d
	return nil
}

func (s *MemoryStore) InsertVersion(_ context.Context, v Version) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[v.DocumentID]; !ok {
		return Version{}, fmt.Errorf("document %s: %w", v.DocumentID, ErrNotFound)
	}
	v.CreatedAt = s.now()
	s.versions[v.DocumentID] = append(s.versions[v.DocumentID], v)
	return v, nil
}

func (s *MemoryStore) ListVersions(_ context.Context, documentID string) ([]Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.versions[documentID]
	items := make([]Version, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		items = append(items, versions[i])
	}
	return items, nil
}
