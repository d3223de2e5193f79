package models

import (
	"slices"
	"time"
)

// CommonBox represents a shared container grouping participants and items.
// Boxes are never deleted in-app.
type CommonBox struct {
	// ID is the unique identifier for the box (UUID format).
	ID string `json:"id"`

	// Name is the display name of the box (e.g., "Fridge", "Garage").
	Name string `json:"name"`

	// ParticipantIDs is the set of users sharing the box. Never empty; the
	// creator is always a participant.
	ParticipantIDs []string `json:"participantIds"`

	// Items is ordered newest first.
	Items []BoxItem `json:"items"`
}

// HasParticipant reports whether userID shares the box.
func (b CommonBox) HasParticipant(userID string) bool {
	return slices.Contains(b.ParticipantIDs, userID)
}

// Item returns the item with the given ID.
func (b CommonBox) Item(itemID string) (BoxItem, bool) {
	for _, it := range b.Items {
		if it.ID == itemID {
			return it, true
		}
	}
	return BoxItem{}, false
}

// WithItem returns a copy of b with item prepended.
func (b CommonBox) WithItem(item BoxItem) CommonBox {
	items := make([]BoxItem, 0, len(b.Items)+1)
	items = append(items, item)
	b.Items = append(items, b.Items...)
	return b
}

// WithItemPatched returns a copy of b where the item with itemID has been
// replaced by patch(item). Other items are shared with the receiver.
func (b CommonBox) WithItemPatched(itemID string, patch func(BoxItem) BoxItem) CommonBox {
	items := make([]BoxItem, len(b.Items))
	for i, it := range b.Items {
		if it.ID == itemID {
			it = patch(it)
		}
		items[i] = it
	}
	b.Items = items
	return b
}

// BoxItem represents a single thing kept in a box.
type BoxItem struct {
	// ID is the unique identifier for the item (UUID format).
	ID string `json:"id"`

	// BoxID is the box holding the item.
	BoxID string `json:"boxId"`

	// Label is the trimmed, human-readable name (e.g., "Greek Yogurt").
	Label string `json:"label"`

	// OwnerUserID is the declared owner. Always a participant of the box.
	OwnerUserID string `json:"ownerUserId"`

	// AddedByUserID is the participant who put the item in the box.
	AddedByUserID string `json:"addedByUserId"`

	// CreatedAt is when the item was added (UTC).
	CreatedAt time.Time `json:"createdAt"`

	// HasConcern is set when a non-owner disputes the declared ownership and
	// cleared when someone claims the item.
	HasConcern bool `json:"hasConcern"`
}
