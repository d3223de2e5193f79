package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// Ensure SQLite implements Adapter
var _ Adapter = (*SQLite)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	namespace TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	saved_at TIMESTAMP NOT NULL
);
`

// SQLite stores one row per namespace in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the cache database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Load(ctx context.Context, namespace string) (*Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM snapshots WHERE namespace = ?", namespace,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", namespace, err)
	}
	return Decode([]byte(raw))
}

func (s *SQLite) Save(ctx context.Context, namespace string, snap Snapshot) error {
	raw, err := Encode(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (namespace, data, saved_at) VALUES (?, ?, ?)
		ON CONFLICT (namespace) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at`,
		namespace, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", namespace, err)
	}
	return nil
}
