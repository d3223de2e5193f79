package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mmynk/commonbox/internal/models"
	"github.com/mmynk/commonbox/internal/retry"
	"github.com/mmynk/commonbox/internal/storage"
)

// Backend is the only step of an operation that differs between local and
// remote mode: making a prepared change durable, and finding users that may
// not be loaded yet.
type Backend interface {
	// Remote reports whether changes are optimistic and may be rolled back.
	Remote() bool

	// Commit makes writes durable. op names the operation for logs and
	// metrics.
	Commit(ctx context.Context, op string, writes []storage.WriteOp) error

	// FindUserByEmail looks up a user by folded email. known is the local
	// user list.
	FindUserByEmail(ctx context.Context, email string, known []models.User) (models.User, error)
}

// LocalBackend keeps everything in engine memory. Commits are final as soon
// as the state changes.
type LocalBackend struct{}

func (LocalBackend) Remote() bool { return false }

func (LocalBackend) Commit(ctx context.Context, op string, writes []storage.WriteOp) error {
	return nil
}

func (LocalBackend) FindUserByEmail(ctx context.Context, email string, known []models.User) (models.User, error) {
	if u, ok := (State{Users: known}).UserByEmail(email); ok {
		return u, nil
	}
	return models.User{}, notFound("no user found with that email")
}

// RemoteBackend commits batches to a document store through a retry policy.
type RemoteBackend struct {
	store  storage.Store
	policy retry.Policy
	logger *slog.Logger
}

// NewRemoteBackend wraps store.
func NewRemoteBackend(store storage.Store, policy retry.Policy, logger *slog.Logger) *RemoteBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteBackend{store: store, policy: policy, logger: logger}
}

func (b *RemoteBackend) Remote() bool { return true }

// Commit sends writes as one atomic batch, retrying failed attempts.
func (b *RemoteBackend) Commit(ctx context.Context, op string, writes []storage.WriteOp) error {
	policy := b.policy
	policy.OnRetry = func(attempt int, err error) {
		b.logger.Warn("Remote commit failed, retrying", "op", op, "attempt", attempt, "error", err)
	}
	return policy.Do(ctx, func(ctx context.Context) error {
		return b.store.Commit(ctx, writes)
	})
}

// FindUserByEmail queries the users collection; the local list is ignored
// because it may lag behind the store.
func (b *RemoteBackend) FindUserByEmail(ctx context.Context, email string, known []models.User) (models.User, error) {
	q := storage.Collection(models.CollectionUsers).
		Where("email", storage.OpEqual, models.NormalizeEmail(email)).
		WithLimit(1)

	var records []storage.Record
	err := b.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		records, err = b.store.Query(ctx, q)
		return err
	})
	if err != nil {
		return models.User{}, fmt.Errorf("look up user: %w", err)
	}
	if len(records) == 0 {
		return models.User{}, notFound("no user found with that email")
	}

	var u models.User
	if err := models.FromDocument(records[0].ID, records[0].Data, &u); err != nil {
		return models.User{}, err
	}
	return u, nil
}

// getOrCreateUser loads the profile of fresh.ID, storing fresh when absent.
func (b *RemoteBackend) getOrCreateUser(ctx context.Context, fresh models.User) (models.User, error) {
	var user models.User
	err := b.policy.Do(ctx, func(ctx context.Context) error {
		doc, err := b.store.Get(ctx, models.CollectionUsers, fresh.ID)
		if err == nil {
			return models.FromDocument(fresh.ID, doc, &user)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		body, err := models.ToDocument(fresh)
		if err != nil {
			return err
		}
		if err := b.store.Set(ctx, models.CollectionUsers, fresh.ID, body); err != nil {
			return err
		}
		user = fresh
		return nil
	})
	return user, err
}
