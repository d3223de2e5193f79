package calculator

import "github.com/mmynk/commonbox/internal/models"

// UnseenCount is the number of notifications userID has not marked seen.
func UnseenCount(notifications []models.Notification, userID string) int {
	if userID == "" {
		return 0
	}
	n := 0
	for _, notif := range notifications {
		if !notif.SeenByUser(userID) {
			n++
		}
	}
	return n
}

// VisibleNotifications filters the feed for userID. Notifications without a
// box are always shown; box notifications are shown while the user is still
// a participant, or when the box is not loaded locally.
func VisibleNotifications(notifications []models.Notification, boxes []models.CommonBox, userID string) []models.Notification {
	byID := make(map[string]models.CommonBox, len(boxes))
	for _, b := range boxes {
		byID[b.ID] = b
	}

	out := make([]models.Notification, 0, len(notifications))
	for _, n := range notifications {
		if n.BoxID == "" {
			out = append(out, n)
			continue
		}
		box, ok := byID[n.BoxID]
		if !ok || box.HasParticipant(userID) {
			out = append(out, n)
		}
	}
	return out
}

// BoxMessages returns the messages of one box, keeping their newest-first order.
func BoxMessages(messages []models.ChatMessage, boxID string) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.BoxID == boxID {
			out = append(out, m)
		}
	}
	return out
}

// RouteTitle is the heading shown for a screen.
func RouteTitle(name models.RouteName) string {
	switch name {
	case models.RouteHome:
		return "CommonBox"
	case models.RouteProfile:
		return "Profile"
	case models.RouteFriends:
		return "Friends"
	case models.RouteNotifications:
		return "Notifications"
	}
	return "Chat Room"
}
