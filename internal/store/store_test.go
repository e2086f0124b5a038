package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// registry is implemented by both stores.
type registry interface {
	ListDocuments(ctx context.Context) ([]Document, error)
	GetDocument(ctx context.Context, documentID string) (Document, error)
	InsertDocument(ctx context.Context, item Document) (Document, error)
	TouchDocument(ctx context.Context, documentID string) error
	InsertVersion(ctx context.Context, v Version) (Version, error)
	ListVersions(ctx context.Context, documentID string) ([]Version, error)
}

func exerciseRegistry(t *testing.T, r registry) {
	t.Helper()
	ctx := context.Background()

	if _, err := r.GetDocument(ctx, "doc_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first, err := r.InsertDocument(ctx, Document{ID: "doc_a", Name: "Alpha", CreatedBy: "Avery"})
	if err != nil {
		t.Fatalf("InsertDocument() error = %v", err)
	}
	if first.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
	if _, err := r.InsertDocument(ctx, Document{ID: "doc_b", Name: "Beta"}); err != nil {
		t.Fatalf("InsertDocument() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := r.TouchDocument(ctx, "doc_a"); err != nil {
		t.Fatalf("TouchDocument() error = %v", err)
	}
	if err := r.TouchDocument(ctx, "doc_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	docs, err := r.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "doc_a" {
		t.Fatalf("expected most recently updated first, got %+v", docs)
	}

	for _, name := range []string{"v1", "v2"} {
		if _, err := r.InsertVersion(ctx, Version{DocumentID: "doc_a", Name: name, Hash: "abc1234", CreatedBy: "Avery"}); err != nil {
			t.Fatalf("InsertVersion() error = %v", err)
		}
	}
	versions, err := r.ListVersions(ctx, "doc_a")
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	if len(versions) != 2 || versions[0].Name != "v2" {
		t.Fatalf("expected newest version first, got %+v", versions)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseRegistry(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("CANVAS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CANVAS_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, Pool{URL: dsn})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	pg := NewPostgresStore(db)
	defer pg.Close()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	exerciseRegistry(t, pg)
}
