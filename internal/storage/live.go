package storage

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// Ensure Live implements Store
var _ Store = (*Live)(nil)

// Live turns any Backend into a Store by re-running subscribed queries after
// every committed write and pushing the fresh snapshots to their listeners.
//
// Writes and deliveries are serialized, so listeners observe snapshots in
// commit order. Listeners run on the writer's goroutine and must not call
// back into Commit, Set, Update or Subscribe synchronously.
type Live struct {
	Backend
	logger *slog.Logger

	deliver sync.Mutex // held across a write and its fan-out

	mu   sync.Mutex
	subs map[uint64]*liveSub
	next uint64
}

type liveSub struct {
	id     uint64
	query  Query
	fn     Listener
	live   *Live
	closed atomic.Bool
}

// NewLive wraps backend with realtime subscriptions.
func NewLive(backend Backend, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{
		Backend: backend,
		logger:  logger,
		subs:    make(map[uint64]*liveSub),
	}
}

// Subscribe registers fn for q and delivers the current snapshot before
// returning.
func (l *Live) Subscribe(ctx context.Context, q Query, fn Listener) (Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	l.deliver.Lock()
	defer l.deliver.Unlock()

	records, err := l.Backend.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.next++
	sub := &liveSub{id: l.next, query: q, fn: fn, live: l}
	l.subs[sub.id] = sub
	l.mu.Unlock()

	fn(Snapshot{Query: q, Records: records})
	return sub, nil
}

// Set creates or replaces a document and notifies subscribers.
func (l *Live) Set(ctx context.Context, collection, id string, doc Document) error {
	return l.Commit(ctx, []WriteOp{SetOp(collection, id, doc)})
}

// Update patches a document and notifies subscribers.
func (l *Live) Update(ctx context.Context, collection, id string, patch Document) error {
	return l.Commit(ctx, []WriteOp{UpdateOp(collection, id, patch)})
}

// Commit applies writes atomically and notifies subscribers of every touched
// collection.
func (l *Live) Commit(ctx context.Context, writes []WriteOp) error {
	l.deliver.Lock()
	defer l.deliver.Unlock()

	if err := l.Backend.Commit(ctx, writes); err != nil {
		return err
	}
	l.publish(context.WithoutCancel(ctx), Collections(writes))
	return nil
}

// Subscribers returns the number of open subscriptions.
func (l *Live) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Close closes every subscription and the wrapped backend.
func (l *Live) Close() error {
	l.mu.Lock()
	for id, sub := range l.subs {
		sub.closed.Store(true)
		delete(l.subs, id)
	}
	l.mu.Unlock()
	return l.Backend.Close()
}

func (l *Live) publish(ctx context.Context, collections []string) {
	l.mu.Lock()
	targets := make([]*liveSub, 0, len(l.subs))
	for _, sub := range l.subs {
		if slices.Contains(collections, sub.query.Collection) {
			targets = append(targets, sub)
		}
	}
	l.mu.Unlock()

	slices.SortFunc(targets, func(a, b *liveSub) int { return cmp.Compare(a.id, b.id) })

	for _, sub := range targets {
		if sub.closed.Load() {
			continue
		}
		records, err := l.Backend.Query(ctx, sub.query)
		if err != nil {
			l.logger.Error("Refresh subscription failed", "query", sub.query.String(), "error", err)
			continue
		}
		sub.fn(Snapshot{Query: sub.query, Records: records})
	}
}

func (s *liveSub) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.live.mu.Lock()
	delete(s.live.subs, s.id)
	s.live.mu.Unlock()
	return nil
}
