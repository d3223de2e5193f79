package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mmynk/commonbox/internal/storage"
	"github.com/mmynk/commonbox/internal/storage/storagetest"
)

func setupTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()

	// Create temp directory for test database
	tempDir, err := os.MkdirTemp("", "commonbox-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	dbPath := filepath.Join(tempDir, "nested", "test.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store, dbPath
}

func TestSQLiteStore(t *testing.T) {
	store, _ := setupTestStore(t)
	storagetest.Run(t, store)
}

func TestSQLiteStoreReopen(t *testing.T) {
	store, dbPath := setupTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "users", "u1", storage.Document{"name": "Mina"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Migrations must be idempotent across restarts.
	reopened, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got["name"] != "Mina" {
		t.Errorf("name = %v, want Mina", got["name"])
	}
}
