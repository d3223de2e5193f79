// Package sqlite provides a SQLite-backed implementation of the storage.Backend interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/commonbox/internal/storage"
)

// Ensure SQLiteStore implements storage.Backend
var _ storage.Backend = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Backend using SQLite. Every document is one
// row holding its JSON body.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves a document by collection and ID.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (storage.Document, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return decode(raw)
}

// Query loads the collection and applies filters, ordering and limit in
// memory so that results match every other backend exactly.
func (s *SQLiteStore) Query(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, data FROM documents WHERE collection = ?",
		q.Collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decode(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, storage.Record{ID: id, Data: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return q.Apply(records), nil
}

// Set creates or replaces a document.
func (s *SQLiteStore) Set(ctx context.Context, collection, id string, doc storage.Document) error {
	return s.Commit(ctx, []storage.WriteOp{storage.SetOp(collection, id, doc)})
}

// Update merges patch into an existing document.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch storage.Document) error {
	return s.Commit(ctx, []storage.WriteOp{storage.UpdateOp(collection, id, patch)})
}

// Commit applies writes inside one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, writes []storage.WriteOp) error {
	if err := storage.ValidateWrites(writes); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, w := range writes {
		var body storage.Document
		switch w.Kind {
		case storage.WriteSet:
			body = storage.Resolve(w.Data)
		case storage.WriteUpdate:
			var raw string
			err := tx.QueryRowContext(ctx,
				"SELECT data FROM documents WHERE collection = ? AND id = ?",
				w.Collection, w.ID,
			).Scan(&raw)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("update %s/%s: %w", w.Collection, w.ID, storage.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("failed to read document: %w", err)
			}
			current, err := decode(raw)
			if err != nil {
				return err
			}
			body = storage.Merge(current, w.Data)
		}

		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode document %s/%s: %w", w.Collection, w.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			w.Collection, w.ID, string(data), now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to write document %s/%s: %w", w.Collection, w.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func decode(raw string) (storage.Document, error) {
	var doc storage.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
