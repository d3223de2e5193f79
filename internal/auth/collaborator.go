package auth

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Identity is the signed-in principal as reported by an auth collaborator.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
}

// Collaborator is what the sync engine needs from an auth provider.
//
// OnIdentityChange invokes fn once immediately with the current identity
// (nil when signed out) and again after every change. Callbacks run
// synchronously on the goroutine that caused the change.
type Collaborator interface {
	OnIdentityChange(fn func(*Identity)) (cancel func())
	SignUp(ctx context.Context, email, password, displayName string) (*Identity, error)
	SignIn(ctx context.Context, email, password string) (*Identity, error)
	SignOut(ctx context.Context) error
}

// identityFeed tracks the current identity and its listeners.
type identityFeed struct {
	mu      sync.Mutex
	current *Identity
	next    int
	fns     map[int]func(*Identity)
}

func (f *identityFeed) OnIdentityChange(fn func(*Identity)) func() {
	f.mu.Lock()
	if f.fns == nil {
		f.fns = make(map[int]func(*Identity))
	}
	f.next++
	id := f.next
	f.fns[id] = fn
	current := copyIdentity(f.current)
	f.mu.Unlock()

	fn(current)

	return func() {
		f.mu.Lock()
		delete(f.fns, id)
		f.mu.Unlock()
	}
}

// Identity returns the current identity, or nil.
func (f *identityFeed) Identity() *Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyIdentity(f.current)
}

func (f *identityFeed) publish(ident *Identity) {
	f.mu.Lock()
	f.current = copyIdentity(ident)
	keys := slices.Sorted(maps.Keys(f.fns))
	fns := make([]func(*Identity), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, f.fns[k])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(copyIdentity(ident))
	}
}

func copyIdentity(ident *Identity) *Identity {
	if ident == nil {
		return nil
	}
	cp := *ident
	return &cp
}

// Ensure InProcess implements Collaborator
var _ Collaborator = (*InProcess)(nil)

// InProcess is a Collaborator backed directly by an Authenticator, for
// embedding the engine next to the store in one process.
type InProcess struct {
	identityFeed
	authenticator Authenticator
}

// NewInProcess creates an in-process collaborator.
func NewInProcess(authenticator Authenticator) *InProcess {
	return &InProcess{authenticator: authenticator}
}

func (c *InProcess) SignUp(ctx context.Context, email, password, displayName string) (*Identity, error) {
	account, err := c.authenticator.Register(ctx, email, displayName, password)
	if err != nil {
		return nil, err
	}
	ident := accountIdentity(account)
	c.publish(ident)
	return ident, nil
}

func (c *InProcess) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	account, err := c.authenticator.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	ident := accountIdentity(account)
	c.publish(ident)
	return ident, nil
}

func (c *InProcess) SignOut(ctx context.Context) error {
	c.publish(nil)
	return nil
}

func accountIdentity(a *Account) *Identity {
	return &Identity{UserID: a.ID, Email: a.Email, DisplayName: a.DisplayName}
}
