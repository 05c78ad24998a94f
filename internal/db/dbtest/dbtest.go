// Package dbtest provides an in-memory SQLite repository with the production schema.
package dbtest

import (
	"context"
	"testing"

	"github.com/3aiwarrior/Meeting-notes-summarizer/internal/db"
)

// New returns a fresh repository that is closed when the test ends.
func New(t testing.TB) *db.Repository {
	t.Helper()

	ctx := context.Background()
	conn, dialect, err := db.Open(ctx, db.Config{Driver: "sqlite", DSN: ":memory:?_pragma=foreign_keys(1)"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.Migrate(ctx, conn, dialect); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db.NewRepository(conn, dialect)
}
