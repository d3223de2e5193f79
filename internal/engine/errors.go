package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced user or box does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSelfReference is returned when a user tries to befriend themselves.
	ErrSelfReference = errors.New("you cannot add yourself")

	// ErrAlreadyFriends is returned when the two users are already linked.
	ErrAlreadyFriends = errors.New("already friends")

	// ErrEmailTaken is returned by a local sign-up for a registered email.
	ErrEmailTaken = errors.New("email already exists")
)

// ValidationError rejects bad input before any state change or remote call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(reason string) error { return &ValidationError{Reason: reason} }

// AuthError wraps a failure reported by the auth collaborator.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// RemoteCommitError is returned when a remote write failed after every
// retry. The optimistic change has already been rolled back.
type RemoteCommitError struct {
	Op  string
	Err error
}

func (e *RemoteCommitError) Error() string {
	return fmt.Sprintf("%s failed after retries: %v", e.Op, e.Err)
}

func (e *RemoteCommitError) Unwrap() error { return e.Err }

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}
