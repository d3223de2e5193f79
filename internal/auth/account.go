package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/commonbox/internal/models"
	"github.com/mmynk/commonbox/internal/storage"
)

// AccountsCollection holds credentials. Collections whose name starts with
// an underscore are private to the server and never exposed through the
// document RPCs.
const AccountsCollection = "_accounts"

// Account is a registered login. It is separate from the models.User profile
// document, which the client provisions after the first sign-in.
type Account struct {
	// ID is the account's UUID and doubles as the user ID.
	ID string `json:"id"`

	// Email is stored case-folded and is unique.
	Email string `json:"email"`

	// DisplayName is passed to the client for profile provisioning.
	DisplayName string `json:"displayName"`

	// PasswordHash is the bcrypt hash of the password.
	PasswordHash string `json:"passwordHash"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewAccount builds an account with a fresh ID.
func NewAccount(email, displayName, passwordHash string) *Account {
	return &Account{
		ID:           uuid.NewString(),
		Email:        models.NormalizeEmail(email),
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
}

// AccountStorage defines the interface for account persistence operations.
// This allows the authenticator to be independent of the storage implementation.
type AccountStorage interface {
	CreateAccount(ctx context.Context, account *Account) error
	// GetAccountByEmail returns nil, nil when no account matches.
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByID(ctx context.Context, id string) (*Account, error)
}

// DocumentAccounts stores accounts as documents in any storage.Backend.
type DocumentAccounts struct {
	backend storage.Backend
}

// NewDocumentAccounts creates account storage on top of backend.
func NewDocumentAccounts(backend storage.Backend) *DocumentAccounts {
	return &DocumentAccounts{backend: backend}
}

// CreateAccount persists a new account.
func (d *DocumentAccounts) CreateAccount(ctx context.Context, account *Account) error {
	doc, err := models.ToDocument(account)
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}
	if err := d.backend.Set(ctx, AccountsCollection, account.ID, doc); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccountByEmail looks an account up by case-folded email.
func (d *DocumentAccounts) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	q := storage.Collection(AccountsCollection).
		Where("email", storage.OpEqual, models.NormalizeEmail(email)).
		WithLimit(1)
	records, err := d.backend.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return decodeAccount(records[0])
}

// GetAccountByID retrieves an account by ID.
func (d *DocumentAccounts) GetAccountByID(ctx context.Context, id string) (*Account, error) {
	doc, err := d.backend.Get(ctx, AccountsCollection, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by id: %w", err)
	}
	return decodeAccount(storage.Record{ID: id, Data: doc})
}

func decodeAccount(rec storage.Record) (*Account, error) {
	var account Account
	if err := models.FromDocument(rec.ID, rec.Data, &account); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	return &account, nil
}
