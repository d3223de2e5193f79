package calculator

import "github.com/mmynk/commonbox/internal/models"

// ProfileStats summarizes one user's standing across their boxes.
type ProfileStats struct {
	BoxesJoined  int `json:"boxesJoined"`
	OwnedItems   int `json:"ownedItems"`
	OpenConcerns int `json:"openConcerns"` // Concerns raised against items the user owns
}

// CalculateProfileStats counts the boxes userID participates in, the items
// they own in those boxes, and how many of those items carry a concern.
func CalculateProfileStats(boxes []models.CommonBox, userID string) ProfileStats {
	var stats ProfileStats
	for _, b := range MyBoxes(boxes, userID) {
		stats.BoxesJoined++
		for _, it := range b.Items {
			if it.OwnerUserID != userID {
				continue
			}
			stats.OwnedItems++
			if it.HasConcern {
				stats.OpenConcerns++
			}
		}
	}
	return stats
}

// MyBoxes returns the boxes userID participates in, preserving order.
func MyBoxes(boxes []models.CommonBox, userID string) []models.CommonBox {
	out := make([]models.CommonBox, 0, len(boxes))
	for _, b := range boxes {
		if userID != "" && b.HasParticipant(userID) {
			out = append(out, b)
		}
	}
	return out
}

// Friends resolves the friend IDs of userID against the known users. IDs
// that do not resolve are skipped.
func Friends(users []models.User, userID string) []models.User {
	me, ok := FindUser(users, userID)
	if !ok {
		return nil
	}
	out := make([]models.User, 0, len(me.FriendIDs))
	for _, u := range users {
		if me.IsFriend(u.ID) {
			out = append(out, u)
		}
	}
	return out
}

// FindUser looks up a user by ID.
func FindUser(users []models.User, userID string) (models.User, bool) {
	for _, u := range users {
		if u.ID == userID {
			return u, true
		}
	}
	return models.User{}, false
}

// DisplayName returns the user's name, or the ID when the user is unknown.
func DisplayName(users []models.User, userID string) string {
	if u, ok := FindUser(users, userID); ok && u.Name != "" {
		return u.Name
	}
	return userID
}
