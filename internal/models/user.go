package models

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// User represents a registered user account.
type User struct {
	// ID is the unique identifier for the user. In remote mode this is the
	// identity issued by the auth service.
	ID string `json:"id"`

	// Name is the display name of the user.
	Name string `json:"name"`

	// Email is the user's email address, stored folded (see NormalizeEmail).
	// Unique across users.
	Email string `json:"email"`

	// FriendIDs lists the IDs of this user's friends. The relation is
	// symmetric: a in FriendIDs(b) iff b in FriendIDs(a).
	FriendIDs []string `json:"friendIds"`
}

// IsFriend reports whether id is among the user's friends.
func (u User) IsFriend(id string) bool {
	return slices.Contains(u.FriendIDs, id)
}

// WithFriend returns a copy of u with id added to its friends. The receiver's
// slice is not modified.
func (u User) WithFriend(id string) User {
	if u.IsFriend(id) {
		return u
	}
	friends := make([]string, 0, len(u.FriendIDs)+1)
	friends = append(friends, u.FriendIDs...)
	u.FriendIDs = append(friends, id)
	return u
}

// NormalizeEmail trims and case-folds an email address so that lookups are
// case-insensitive for any script, not only ASCII.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

// DefaultName picks a display name for a freshly provisioned account.
func DefaultName(displayName, email string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	if email != "" && !strings.Contains(email, "@") {
		return email
	}
	return "CommonBox User"
}
