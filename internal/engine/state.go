package engine

import (
	"slices"

	"github.com/mmynk/commonbox/internal/models"
	"github.com/mmynk/commonbox/internal/toast"
)

// Phase is the remote session lifecycle.
type Phase string

const (
	PhaseSignedOut    Phase = "signed_out"
	PhaseProvisioning Phase = "provisioning"
	PhaseActive       Phase = "active"
)

// State is an immutable snapshot of everything the UI renders. Slices are
// replaced, never written in place, so a State may be read without locks.
type State struct {
	Theme models.Theme
	Route models.Route
	Toast *toast.Toast

	Users         []models.User
	Boxes         []models.CommonBox
	Messages      []models.ChatMessage // newest first
	Notifications []models.Notification

	CurrentUserID string
	SelectedBoxID string

	Phase         Phase
	AuthReady     bool
	HasHydrated   bool
	RemoteEnabled bool

	// Version increases with every change.
	Version uint64
}

// SignedIn reports whether an identity is active.
func (s State) SignedIn() bool {
	return s.CurrentUserID != "" && s.Phase == PhaseActive
}

// User returns the user with the given ID.
func (s State) User(id string) (models.User, bool) {
	i := slices.IndexFunc(s.Users, func(u models.User) bool { return u.ID == id })
	if i < 0 {
		return models.User{}, false
	}
	return s.Users[i], true
}

// CurrentUser returns the signed-in user's profile.
func (s State) CurrentUser() (models.User, bool) {
	if s.CurrentUserID == "" {
		return models.User{}, false
	}
	return s.User(s.CurrentUserID)
}

// UserByEmail finds a user by case-insensitive email.
func (s State) UserByEmail(email string) (models.User, bool) {
	folded := models.NormalizeEmail(email)
	i := slices.IndexFunc(s.Users, func(u models.User) bool { return models.NormalizeEmail(u.Email) == folded })
	if i < 0 {
		return models.User{}, false
	}
	return s.Users[i], true
}

// Box returns the box with the given ID.
func (s State) Box(id string) (models.CommonBox, bool) {
	i := slices.IndexFunc(s.Boxes, func(b models.CommonBox) bool { return b.ID == id })
	if i < 0 {
		return models.CommonBox{}, false
	}
	return s.Boxes[i], true
}

// Notification returns the notification with the given ID.
func (s State) Notification(id string) (models.Notification, bool) {
	i := slices.IndexFunc(s.Notifications, func(n models.Notification) bool { return n.ID == id })
	if i < 0 {
		return models.Notification{}, false
	}
	return s.Notifications[i], true
}

// field flags the parts of State an operation touches, so that a rollback
// restores exactly those.
type field uint8

const (
	fieldUsers field = 1 << iota
	fieldBoxes
	fieldMessages
	fieldNotifications
	fieldSelection // SelectedBoxID and Route
)

// restore copies the fields in mask from before into s.
func restore(s, before State, mask field) State {
	if mask&fieldUsers != 0 {
		s.Users = before.Users
	}
	if mask&fieldBoxes != 0 {
		s.Boxes = before.Boxes
	}
	if mask&fieldMessages != 0 {
		s.Messages = before.Messages
	}
	if mask&fieldNotifications != 0 {
		s.Notifications = before.Notifications
	}
	if mask&fieldSelection != 0 {
		s.SelectedBoxID = before.SelectedBoxID
		s.Route = before.Route
	}
	return s
}

// replaceUser returns users with u substituted for the entry with the same
// ID, or appended if absent.
func replaceUser(users []models.User, u models.User) []models.User {
	out := make([]models.User, 0, len(users)+1)
	found := false
	for _, existing := range users {
		if existing.ID == u.ID {
			existing = u
			found = true
		}
		out = append(out, existing)
	}
	if !found {
		out = append(out, u)
	}
	return out
}

func replaceBox(boxes []models.CommonBox, b models.CommonBox) []models.CommonBox {
	out := make([]models.CommonBox, len(boxes))
	for i, existing := range boxes {
		if existing.ID == b.ID {
			existing = b
		}
		out[i] = existing
	}
	return out
}

func replaceNotification(ns []models.Notification, n models.Notification) []models.Notification {
	out := make([]models.Notification, len(ns))
	for i, existing := range ns {
		if existing.ID == n.ID {
			existing = n
		}
		out[i] = existing
	}
	return out
}

func prepend[T any](s []T, v T) []T {
	out := make([]T, 0, len(s)+1)
	out = append(out, v)
	return append(out, s...)
}
