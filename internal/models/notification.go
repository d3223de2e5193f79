package models

import (
	"fmt"
	"slices"
	"time"
)

// NotificationType classifies what happened.
type NotificationType string

const (
	NotificationOwnershipConcern NotificationType = "ownership_concern"
	NotificationOwnershipClaimed NotificationType = "ownership_claimed"
	NotificationFriendAdded      NotificationType = "friend_added"
)

// Notification records an event for an audience of users.
//
// SeenBy only grows and is always a subset of AudienceUserIDs. It starts
// with the actor, who has obviously seen what they did.
type Notification struct {
	ID string `json:"id"`

	// BoxID and ItemID are set for ownership notifications.
	BoxID  string `json:"boxId,omitempty"`
	ItemID string `json:"itemId,omitempty"`

	ActorUserID string `json:"actorUserId"`

	// AudienceUserIDs are the users entitled to see the notification: all
	// participants of the box, or the two users of a new friendship.
	AudienceUserIDs []string `json:"audienceUserIds"`

	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"createdAt"`
	SeenBy    []string         `json:"seenBy"`
}

// IsAddressedTo reports whether userID is in the audience.
func (n Notification) IsAddressedTo(userID string) bool {
	return slices.Contains(n.AudienceUserIDs, userID)
}

// SeenByUser reports whether userID has marked the notification seen.
func (n Notification) SeenByUser(userID string) bool {
	return slices.Contains(n.SeenBy, userID)
}

// WithSeen returns a copy of n marked seen by userID.
func (n Notification) WithSeen(userID string) Notification {
	if n.SeenByUser(userID) {
		return n
	}
	seen := make([]string, 0, len(n.SeenBy)+1)
	seen = append(seen, n.SeenBy...)
	n.SeenBy = append(seen, userID)
	return n
}

// FriendAddedMessage is the text of a friend_added notification.
func FriendAddedMessage(actor, target string) string {
	return fmt.Sprintf("%s added %s as a friend.", actor, target)
}

// ConcernMessage is the text of an ownership_concern notification.
func ConcernMessage(actor, label, owner string) string {
	return fmt.Sprintf("%s raised a concern: %q might not belong to %s.", actor, label, owner)
}

// ClaimMessage is the text of an ownership_claimed notification.
func ClaimMessage(actor, label string) string {
	return fmt.Sprintf("%s claimed ownership of %q.", actor, label)
}
