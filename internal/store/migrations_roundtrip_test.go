package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("CANVAS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CANVAS_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, Pool{URL: dsn, MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	dir := filepath.Join("..", "..", "db", "migrations")
	if err := ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply (pass 1): %v", err)
	}
	if err := ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply is not idempotent: %v", err)
	}

	if err := RollbackMigrations(ctx, db, dir, 1); err != nil {
		t.Fatalf("roll back one step: %v", err)
	}
	var versionsTable bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('public.document_versions') IS NOT NULL`).Scan(&versionsTable); err != nil {
		t.Fatalf("check document_versions: %v", err)
	}
	if versionsTable {
		t.Fatal("expected document_versions to be dropped")
	}

	if err := RollbackMigrations(ctx, db, dir, 0); err != nil {
		t.Fatalf("roll back all: %v", err)
	}
	if err := ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply (pass 2): %v", err)
	}
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}
