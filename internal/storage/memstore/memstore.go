// Package memstore provides an in-memory implementation of storage.Backend.
// Wrap it with storage.NewLive for realtime subscriptions.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/mmynk/commonbox/internal/storage"
)

// Ensure MemStore implements storage.Backend
var _ storage.Backend = (*MemStore)(nil)

// MemStore keeps documents in nested maps guarded by a mutex. Documents are
// deep-copied on the way in and out.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]storage.Document
}

// New creates an empty MemStore.
func New() *MemStore {
	return &MemStore{docs: make(map[string]map[string]storage.Document)}
}

// Get retrieves a document by collection and ID.
func (s *MemStore) Get(ctx context.Context, collection, id string) (storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, storage.ErrNotFound)
	}
	return storage.Clone(doc), nil
}

// Query returns the documents matching q.
func (s *MemStore) Query(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	records := make([]storage.Record, 0, len(s.docs[q.Collection]))
	for id, doc := range s.docs[q.Collection] {
		records = append(records, storage.Record{ID: id, Data: doc})
	}
	s.mu.RUnlock()

	out := q.Apply(records)
	for i := range out {
		out[i].Data = storage.Clone(out[i].Data)
	}
	return out, nil
}

// Set creates or replaces a document.
func (s *MemStore) Set(ctx context.Context, collection, id string, doc storage.Document) error {
	return s.Commit(ctx, []storage.WriteOp{storage.SetOp(collection, id, doc)})
}

// Update merges patch into an existing document.
func (s *MemStore) Update(ctx context.Context, collection, id string, patch storage.Document) error {
	return s.Commit(ctx, []storage.WriteOp{storage.UpdateOp(collection, id, patch)})
}

// Commit applies writes atomically. Every write is staged against a view of
// the pending batch first; nothing is stored unless all of them succeed.
func (s *MemStore) Commit(ctx context.Context, writes []storage.WriteOp) error {
	if err := storage.ValidateWrites(writes); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct{ collection, id string }
	staged := make(map[key]storage.Document, len(writes))
	order := make([]key, 0, len(writes))

	for _, w := range writes {
		k := key{w.Collection, w.ID}
		current, pending := staged[k]
		if !pending {
			current = s.docs[w.Collection][w.ID]
			order = append(order, k)
		}

		switch w.Kind {
		case storage.WriteSet:
			staged[k] = storage.Resolve(w.Data)
		case storage.WriteUpdate:
			if current == nil {
				return fmt.Errorf("update %s/%s: %w", w.Collection, w.ID, storage.ErrNotFound)
			}
			staged[k] = storage.Merge(current, w.Data)
		}
	}

	for _, k := range order {
		coll, ok := s.docs[k.collection]
		if !ok {
			coll = make(map[string]storage.Document)
			s.docs[k.collection] = coll
		}
		coll[k.id] = staged[k]
	}
	return nil
}

// Len returns the number of documents in a collection.
func (s *MemStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[collection])
}

// Close is a no-op; it exists to satisfy storage.Backend.
func (s *MemStore) Close() error {
	return nil
}
