// Package storage provides abstractions for the document store that backs
// CommonBox in remote mode.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is a schemaless document body. Values are JSON-compatible:
// string, float64, bool, nil, []any, map[string]any. Inside an Update patch a
// value may also be an ArrayUnion.
type Document map[string]any

// Record is a document together with its ID.
type Record struct {
	ID   string   `json:"id"`
	Data Document `json:"data"`
}

// Snapshot is the full result of a query at one point in time.
type Snapshot struct {
	Query   Query
	Records []Record
}

// Listener receives snapshots for a subscribed query.
type Listener func(Snapshot)

// Subscription is a live query. Close stops further deliveries.
type Subscription interface {
	Close() error
}

// Backend defines the document operations every storage implementation
// provides. This abstraction allows swapping backends (memory, SQLite,
// PostgreSQL, a remote server) without changing the callers.
type Backend interface {
	// Get retrieves a document by collection and ID.
	// Returns ErrNotFound if the document does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Query returns the documents matching q, filtered, ordered and limited.
	Query(ctx context.Context, q Query) ([]Record, error)

	// Set creates or replaces a document.
	Set(ctx context.Context, collection, id string, doc Document) error

	// Update merges patch into an existing document.
	// Returns ErrNotFound if the document does not exist.
	Update(ctx context.Context, collection, id string, patch Document) error

	// Commit applies all writes atomically: either every write lands or none.
	Commit(ctx context.Context, writes []WriteOp) error

	// Close releases any resources held by the backend.
	Close() error
}

// Store is a Backend with realtime query subscriptions.
type Store interface {
	Backend

	// Subscribe delivers a snapshot of q immediately and again after every
	// change that may affect it, until the subscription is closed.
	Subscribe(ctx context.Context, q Query, fn Listener) (Subscription, error)
}

// WriteKind selects what a WriteOp does.
type WriteKind string

const (
	WriteSet    WriteKind = "set"
	WriteUpdate WriteKind = "update"
)

// WriteOp is one write inside a batch commit.
type WriteOp struct {
	Kind       WriteKind `json:"kind"`
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Data       Document  `json:"data"`
}

// SetOp builds a create-or-replace write.
func SetOp(collection, id string, doc Document) WriteOp {
	return WriteOp{Kind: WriteSet, Collection: collection, ID: id, Data: doc}
}

// UpdateOp builds a partial update write.
func UpdateOp(collection, id string, patch Document) WriteOp {
	return WriteOp{Kind: WriteUpdate, Collection: collection, ID: id, Data: patch}
}

// Collections returns the distinct collections touched by writes, in first
// appearance order.
func Collections(writes []WriteOp) []string {
	var out []string
	seen := make(map[string]bool, len(writes))
	for _, w := range writes {
		if !seen[w.Collection] {
			seen[w.Collection] = true
			out = append(out, w.Collection)
		}
	}
	return out
}
