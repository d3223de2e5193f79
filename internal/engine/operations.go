package engine

import (
	"context"
	"slices"
	"strings"

	"github.com/mmynk/commonbox/internal/calculator"
	"github.com/mmynk/commonbox/internal/models"
	"github.com/mmynk/commonbox/internal/storage"
)

// Operation names used in logs and metrics.
const (
	OpAddFriend      = "add_friend"
	OpAddBox         = "add_box"
	OpAddItem        = "add_item"
	OpRaiseConcern   = "raise_concern"
	OpClaimOwnership = "claim_ownership"
	OpSendMessage    = "send_message"
	OpMarkSeen       = "mark_seen"
)

var errSignInFirst = invalid("please log in first")

// AddFriendByEmail links the current user and the user with email as
// friends, and notifies both.
func (e *Engine) AddFriendByEmail(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	s := e.Snapshot()
	if !s.SignedIn() {
		e.toasts.Error(userMessage(errSignInFirst))
		return errSignInFirst
	}
	if email == "" {
		err := invalid("email is required")
		e.toasts.Error(userMessage(err))
		return err
	}

	target, err := e.backend.FindUserByEmail(ctx, email, s.Users)
	if err != nil {
		e.toasts.Error(userMessage(err))
		return err
	}

	return e.mutate(ctx, OpAddFriend, func(s State) (*change, error) {
		me, ok := s.CurrentUser()
		if !ok {
			return nil, invalid("current user missing")
		}
		if target.ID == me.ID {
			return nil, ErrSelfReference
		}
		if me.IsFriend(target.ID) {
			return nil, ErrAlreadyFriends
		}
		if local, ok := s.User(target.ID); ok {
			target = local
		}

		n := models.Notification{
			ID:              e.newID(),
			ActorUserID:     me.ID,
			AudienceUserIDs: []string{me.ID, target.ID},
			Message:         models.FriendAddedMessage(me.Name, target.Name),
			Type:            models.NotificationFriendAdded,
			CreatedAt:       e.now(),
			SeenBy:          []string{me.ID},
		}
		nDoc, err := models.ToDocument(n)
		if err != nil {
			return nil, err
		}

		s.Users = replaceUser(replaceUser(s.Users, me.WithFriend(target.ID)), target.WithFriend(me.ID))
		s.Notifications = prepend(s.Notifications, n)
		return &change{
			next:    s,
			touched: fieldUsers | fieldNotifications,
			writes: []storage.WriteOp{
				storage.UpdateOp(models.CollectionUsers, me.ID, storage.Document{"friendIds": storage.Union(target.ID)}),
				storage.UpdateOp(models.CollectionUsers, target.ID, storage.Document{"friendIds": storage.Union(me.ID)}),
				storage.SetOp(models.CollectionNotifications, n.ID, nDoc),
			},
			success: "Friend added.",
		}, nil
	})
}

// AddBox creates a box shared by the current user and participantIDs and
// selects it. It returns the new box ID.
func (e *Engine) AddBox(ctx context.Context, name string, participantIDs []string) (string, error) {
	var boxID string
	err := e.mutate(ctx, OpAddBox, func(s State) (*change, error) {
		if !s.SignedIn() {
			return nil, errSignInFirst
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, invalid("box name is required")
		}

		participants := []string{s.CurrentUserID}
		for _, id := range participantIDs {
			if id = strings.TrimSpace(id); id != "" && !slices.Contains(participants, id) {
				participants = append(participants, id)
			}
		}
		box := models.CommonBox{ID: e.newID(), Name: name, ParticipantIDs: participants, Items: []models.BoxItem{}}
		doc, err := models.ToDocument(box)
		if err != nil {
			return nil, err
		}
		boxID = box.ID

		s.Boxes = prepend(s.Boxes, box)
		s = selectBox(s, box.ID, e.backend.Remote())
		return &change{
			next:    s,
			touched: fieldBoxes | fieldSelection | fieldMessages,
			writes:  []storage.WriteOp{storage.SetOp(models.CollectionBoxes, box.ID, doc)},
			success: "Box created.",
		}, nil
	})
	e.rebindMessages()
	if err != nil {
		return "", err
	}
	return boxID, nil
}

// AddItem puts a new item at the front of a box. The owner must be a
// participant of the box.
func (e *Engine) AddItem(ctx context.Context, boxID, label, ownerID string) error {
	return e.mutate(ctx, OpAddItem, func(s State) (*change, error) {
		if !s.SignedIn() {
			return nil, errSignInFirst
		}
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, invalid("item name is required")
		}
		box, ok := s.Box(boxID)
		if !ok {
			return nil, notFound("box not found")
		}
		if !box.HasParticipant(ownerID) {
			return nil, invalid("owner must be a participant in this box")
		}

		box = box.WithItem(models.BoxItem{
			ID:            e.newID(),
			BoxID:         box.ID,
			Label:         label,
			OwnerUserID:   ownerID,
			AddedByUserID: s.CurrentUserID,
			CreatedAt:     e.now(),
		})
		write, err := itemsWrite(box)
		if err != nil {
			return nil, err
		}

		s.Boxes = replaceBox(s.Boxes, box)
		return &change{
			next:    s,
			touched: fieldBoxes,
			writes:  []storage.WriteOp{write},
			success: "Item added.",
		}, nil
	})
}

// RaiseConcern flags an item as possibly not belonging to its owner and
// notifies the box. It does nothing when the item is missing or already
// belongs to the caller. Failures are reported through the toast.
func (e *Engine) RaiseConcern(ctx context.Context, boxID, itemID string) {
	e.mutate(ctx, OpRaiseConcern, func(s State) (*change, error) {
		box, item, ok := lookupItem(s, boxID, itemID)
		if !ok || item.OwnerUserID == s.CurrentUserID {
			return nil, nil
		}

		box = box.WithItemPatched(itemID, func(it models.BoxItem) models.BoxItem {
			it.HasConcern = true
			return it
		})
		n := e.itemNotification(s, box, itemID, models.NotificationOwnershipConcern,
			models.ConcernMessage(
				calculator.DisplayName(s.Users, s.CurrentUserID),
				item.Label,
				calculator.DisplayName(s.Users, item.OwnerUserID)))
		return e.itemChange(s, box, n, "Concern raised.")
	})
}

// ClaimOwnership makes the caller the owner of an item and clears any
// concern. Any participant may claim. Failures are reported through the
// toast.
func (e *Engine) ClaimOwnership(ctx context.Context, boxID, itemID string) {
	e.mutate(ctx, OpClaimOwnership, func(s State) (*change, error) {
		box, item, ok := lookupItem(s, boxID, itemID)
		if !ok || !box.HasParticipant(s.CurrentUserID) {
			return nil, nil
		}

		box = box.WithItemPatched(itemID, func(it models.BoxItem) models.BoxItem {
			it.OwnerUserID = s.CurrentUserID
			it.HasConcern = false
			return it
		})
		n := e.itemNotification(s, box, itemID, models.NotificationOwnershipClaimed,
			models.ClaimMessage(calculator.DisplayName(s.Users, s.CurrentUserID), item.Label))
		return e.itemChange(s, box, n, "Ownership claimed.")
	})
}

// SendMessage posts text to a box's chat.
func (e *Engine) SendMessage(ctx context.Context, boxID, text string) error {
	return e.mutate(ctx, OpSendMessage, func(s State) (*change, error) {
		if !s.SignedIn() {
			return nil, errSignInFirst
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, invalid("message cannot be empty")
		}
		box, ok := s.Box(boxID)
		if !ok {
			return nil, notFound("box not found")
		}
		if !box.HasParticipant(s.CurrentUserID) {
			return nil, invalid("you are not a participant in this box")
		}

		msg := models.ChatMessage{
			ID:           e.newID(),
			BoxID:        boxID,
			SenderUserID: s.CurrentUserID,
			Text:         text,
			CreatedAt:    e.now(),
		}
		doc, err := models.ToDocument(msg)
		if err != nil {
			return nil, err
		}

		// Remote state holds only the selected box's stream.
		if !e.backend.Remote() || boxID == s.SelectedBoxID {
			s.Messages = prepend(s.Messages, msg)
		}
		return &change{
			next:    s,
			touched: fieldMessages,
			writes:  []storage.WriteOp{storage.SetOp(models.CollectionMessages, msg.ID, doc)},
		}, nil
	})
}

// MarkNotificationSeen records that the current user has seen a
// notification. Repeating it is a no-op.
func (e *Engine) MarkNotificationSeen(ctx context.Context, notificationID string) {
	e.mutate(ctx, OpMarkSeen, func(s State) (*change, error) {
		if !s.SignedIn() {
			return nil, nil
		}
		n, ok := s.Notification(notificationID)
		if !ok || n.SeenByUser(s.CurrentUserID) || !n.IsAddressedTo(s.CurrentUserID) {
			return nil, nil
		}

		s.Notifications = replaceNotification(s.Notifications, n.WithSeen(s.CurrentUserID))
		return &change{
			next:    s,
			touched: fieldNotifications,
			writes: []storage.WriteOp{
				storage.UpdateOp(models.CollectionNotifications, n.ID, storage.Document{"seenBy": storage.Union(s.CurrentUserID)}),
			},
		}, nil
	})
}

// Navigate moves the UI to route.
func (e *Engine) Navigate(route models.Route) error {
	if !route.Name.Valid() {
		return invalid("unknown screen " + string(route.Name))
	}
	e.transition(func(s State) (State, bool) {
		s.Route = route
		return s, true
	})
	return nil
}

// SelectBox makes boxID the selected box and shows it. In remote mode the
// previous box's message listener is detached before the new one attaches.
func (e *Engine) SelectBox(boxID string) error {
	var err error
	e.transition(func(s State) (State, bool) {
		if _, ok := s.Box(boxID); !ok {
			err = notFound("box not found")
			return s, false
		}
		return selectBox(s, boxID, e.backend.Remote()), true
	})
	if err != nil {
		return err
	}
	e.rebindMessages()
	return nil
}

// ToggleTheme switches between light and dark.
func (e *Engine) ToggleTheme() {
	e.transition(func(s State) (State, bool) {
		s.Theme = s.Theme.Toggled()
		return s, true
	})
}

// DismissToast hides the visible toast.
func (e *Engine) DismissToast() {
	if t := e.toasts.Current(); t != nil {
		e.toasts.Dismiss(t.ID)
	}
}

// selectBox sets the selection. Remote messages are scoped to the selected
// box, so they are cleared until the new listener delivers.
func selectBox(s State, boxID string, remote bool) State {
	if remote && s.SelectedBoxID != boxID {
		s.Messages = nil
	}
	s.SelectedBoxID = boxID
	s.Route = models.Route{Name: models.RouteHome, BoxID: boxID}
	return s
}

func lookupItem(s State, boxID, itemID string) (models.CommonBox, models.BoxItem, bool) {
	if !s.SignedIn() {
		return models.CommonBox{}, models.BoxItem{}, false
	}
	box, ok := s.Box(boxID)
	if !ok {
		return models.CommonBox{}, models.BoxItem{}, false
	}
	item, ok := box.Item(itemID)
	return box, item, ok
}

func (e *Engine) itemNotification(s State, box models.CommonBox, itemID string, typ models.NotificationType, message string) models.Notification {
	return models.Notification{
		ID:              e.newID(),
		BoxID:           box.ID,
		ItemID:          itemID,
		ActorUserID:     s.CurrentUserID,
		AudienceUserIDs: append([]string(nil), box.ParticipantIDs...),
		Message:         message,
		Type:            typ,
		CreatedAt:       e.now(),
		SeenBy:          []string{s.CurrentUserID},
	}
}

// itemChange builds the change for an ownership transition: the box's
// items and the notification are committed in one batch.
func (e *Engine) itemChange(s State, box models.CommonBox, n models.Notification, success string) (*change, error) {
	write, err := itemsWrite(box)
	if err != nil {
		return nil, err
	}
	nDoc, err := models.ToDocument(n)
	if err != nil {
		return nil, err
	}

	s.Boxes = replaceBox(s.Boxes, box)
	s.Notifications = prepend(s.Notifications, n)
	return &change{
		next:    s,
		touched: fieldBoxes | fieldNotifications,
		writes: []storage.WriteOp{
			write,
			storage.SetOp(models.CollectionNotifications, n.ID, nDoc),
		},
		success: success,
	}, nil
}

// itemsWrite replaces the stored item list of box.
func itemsWrite(box models.CommonBox) (storage.WriteOp, error) {
	items, err := models.ToValue(box.Items)
	if err != nil {
		return storage.WriteOp{}, err
	}
	return storage.UpdateOp(models.CollectionBoxes, box.ID, storage.Document{"items": items}), nil
}
