// Package postgres provides a PostgreSQL-backed implementation of the
// storage.Backend interface using pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mmynk/commonbox/internal/storage"
)

// Ensure Store implements storage.Backend
var _ storage.Backend = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
);
`

// Store keeps documents as JSONB rows.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, verifies the connection and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (storage.Document, error) {
	const q = `SELECT data::text FROM documents WHERE collection = $1 AND id = $2`

	var raw string
	err := s.pool.QueryRow(ctx, q, collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return decode(raw)
}

// Query loads the collection and evaluates q in memory, matching the other
// backends' ordering rules exactly.
func (s *Store) Query(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	const sel = `SELECT id, data::text FROM documents WHERE collection = $1`
	rows, err := s.pool.Query(ctx, sel, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := decode(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, storage.Record{ID: id, Data: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return q.Apply(records), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, doc storage.Document) error {
	return s.Commit(ctx, []storage.WriteOp{storage.SetOp(collection, id, doc)})
}

func (s *Store) Update(ctx context.Context, collection, id string, patch storage.Document) error {
	return s.Commit(ctx, []storage.WriteOp{storage.UpdateOp(collection, id, patch)})
}

// Commit applies writes in one transaction. Updated rows are locked with
// SELECT ... FOR UPDATE so concurrent array unions do not lose elements.
func (s *Store) Commit(ctx context.Context, writes []storage.WriteOp) error {
	if err := storage.ValidateWrites(writes); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const (
		lock   = `SELECT data::text FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`
		upsert = `
			INSERT INTO documents (collection, id, data)
			VALUES ($1, $2, $3::jsonb)
			ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = now()
		`
	)

	for _, w := range writes {
		var body storage.Document
		switch w.Kind {
		case storage.WriteSet:
			body = storage.Resolve(w.Data)
		case storage.WriteUpdate:
			var raw string
			err := tx.QueryRow(ctx, lock, w.Collection, w.ID).Scan(&raw)
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("update %s/%s: %w", w.Collection, w.ID, storage.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("lock document: %w", err)
			}
			current, err := decode(raw)
			if err != nil {
				return err
			}
			body = storage.Merge(current, w.Data)
		}

		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode document %s/%s: %w", w.Collection, w.ID, err)
		}
		if _, err := tx.Exec(ctx, upsert, w.Collection, w.ID, string(data)); err != nil {
			return fmt.Errorf("write document %s/%s: %w", w.Collection, w.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func decode(raw string) (storage.Document, error) {
	var doc storage.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
