package auth

import (
	"context"
)

// Ensure PasswordAuthenticator implements Authenticator
var _ Authenticator = (*PasswordAuthenticator)(nil)

// Authenticator is the server side of account management. The AuthService
// turns the accounts it returns into session tokens.
type Authenticator interface {
	// Register creates an account. It fails with ErrEmailExists when the
	// case-folded email is taken and with ErrWeakPassword or ErrInvalidEmail
	// when the input is rejected.
	Register(ctx context.Context, email, displayName, credential string) (*Account, error)

	// Authenticate returns the account for email, or ErrInvalidCredentials.
	Authenticate(ctx context.Context, email, credential string) (*Account, error)

	// Lookup returns the account with the given ID, or nil if there is none.
	Lookup(ctx context.Context, id string) (*Account, error)

	ValidateCredential(credential string) error
}
