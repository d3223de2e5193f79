package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/mmynk/commonbox/internal/auth"
	"github.com/mmynk/commonbox/internal/models"
	"github.com/mmynk/commonbox/internal/storage"
)

// SignUp registers an account and signs it in. In remote mode the auth
// collaborator creates the account and provisioning creates the profile.
func (e *Engine) SignUp(ctx context.Context, name, email, password string) error {
	name = strings.TrimSpace(name)
	email = models.NormalizeEmail(email)
	if name == "" || email == "" || strings.TrimSpace(password) == "" {
		err := invalid("name, email, and password are required")
		e.toasts.Error(userMessage(err))
		return err
	}

	if e.backend.Remote() {
		ident, err := e.auth.SignUp(ctx, email, password, name)
		if err != nil {
			return e.authFailed("sign up", err)
		}
		return e.awaitActive(ident)
	}

	var prepErr error
	e.transition(func(s State) (State, bool) {
		if _, taken := s.UserByEmail(email); taken {
			prepErr = ErrEmailTaken
			return s, false
		}
		u := models.User{ID: e.newID(), Name: name, Email: email, FriendIDs: []string{}}
		s.Users = append(s.Users[:len(s.Users):len(s.Users)], u)
		s = signedIn(s, u.ID)
		return s, true
	})
	if prepErr != nil {
		e.toasts.Error(userMessage(prepErr))
	}
	return prepErr
}

// SignIn signs an existing account in. Local mode matches the email only.
func (e *Engine) SignIn(ctx context.Context, email, password string) error {
	email = models.NormalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		err := invalid("email and password are required")
		e.toasts.Error(userMessage(err))
		return err
	}

	if e.backend.Remote() {
		ident, err := e.auth.SignIn(ctx, email, password)
		if err != nil {
			return e.authFailed("sign in", err)
		}
		return e.awaitActive(ident)
	}

	var prepErr error
	e.transition(func(s State) (State, bool) {
		u, ok := s.UserByEmail(email)
		if !ok {
			prepErr = notFound("account not found, try signing up")
			return s, false
		}
		return signedIn(s, u.ID), true
	})
	if prepErr != nil {
		e.toasts.Error(userMessage(prepErr))
	}
	return prepErr
}

// SignOut ends the session. In remote mode identity loss detaches every
// listener before identity-scoped state is cleared.
func (e *Engine) SignOut(ctx context.Context) error {
	if e.backend.Remote() {
		if err := e.auth.SignOut(ctx); err != nil {
			return e.authFailed("sign out", err)
		}
		return nil
	}
	e.transition(func(s State) (State, bool) {
		s.CurrentUserID = ""
		s.Phase = PhaseSignedOut
		s.Route = models.Route{Name: models.RouteHome}
		return s, true
	})
	return nil
}

func signedIn(s State, userID string) State {
	s.CurrentUserID = userID
	s.Phase = PhaseActive
	s.AuthReady = true
	s.Route = models.Route{Name: models.RouteHome, BoxID: s.SelectedBoxID}
	return s
}

func (e *Engine) authFailed(op string, err error) error {
	aerr := &AuthError{Op: op, Err: err}
	e.logger.Warn("Authentication failed", "op", op, "error", err)
	e.toasts.Error(authMessage(op, err))
	return aerr
}

func authMessage(op string, err error) string {
	switch {
	case errors.Is(err, auth.ErrEmailExists):
		return "Email already exists."
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidEmail):
		return sentence(err.Error())
	case op == "sign in":
		return "Login failed. Check email/password."
	case op == "sign up":
		return "Sign up failed. Check your details."
	}
	return "Sign out failed."
}

// awaitActive reports the outcome of provisioning for ident. The identity
// callback runs synchronously inside the collaborator call, so provisioning
// has finished by the time the collaborator returns.
func (e *Engine) awaitActive(ident *auth.Identity) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Phase == PhaseActive && e.state.CurrentUserID == ident.UserID {
		return nil
	}
	if e.provisionErr != nil {
		return &RemoteCommitError{Op: "provision", Err: e.provisionErr}
	}
	return &AuthError{Op: "provision", Err: errors.New("session ended before it became active")}
}

// onIdentity follows the auth collaborator. It runs on the goroutine that
// changed the identity.
func (e *Engine) onIdentity(ident *auth.Identity) {
	e.mu.Lock()
	e.session++
	session := e.session
	e.provisionErr = nil
	e.mu.Unlock()

	if ident == nil {
		e.endSession()
		return
	}

	// Listeners of a previous identity go before its state does.
	if e.Snapshot().CurrentUserID != ident.UserID {
		e.detachListeners()
	}
	e.transition(func(s State) (State, bool) {
		if s.CurrentUserID != ident.UserID {
			s = clearIdentityScoped(s)
			s.CurrentUserID = ""
		}
		s.Phase = PhaseProvisioning
		return s, true
	})

	fresh := models.User{
		ID:        ident.UserID,
		Name:      models.DefaultName(ident.DisplayName, ident.Email),
		Email:     models.NormalizeEmail(ident.Email),
		FriendIDs: []string{},
	}
	user, err := e.remote.getOrCreateUser(e.ctx, fresh)
	if err != nil {
		e.logger.Error("Failed to provision user", "user_id", ident.UserID, "error", err)
		e.mu.Lock()
		stale := e.session != session
		if !stale {
			e.provisionErr = err
		}
		e.mu.Unlock()
		if stale {
			return
		}
		e.detachListeners()
		e.transition(func(s State) (State, bool) {
			s = clearIdentityScoped(s)
			s.Phase = PhaseSignedOut
			s.CurrentUserID = ""
			s.AuthReady = true
			return s, true
		})
		e.toasts.Error("Could not load your profile. Please sign in again.")
		return
	}

	var current bool
	e.transition(func(s State) (State, bool) {
		current = e.session == session // e.mu is held here
		if !current {
			return s, false
		}
		s.Users = replaceUser(s.Users, user)
		s = signedIn(s, user.ID)
		return s, true
	})
	if !current {
		return
	}

	e.logger.Info("Session active", "user_id", user.ID)
	e.bindSession(user.ID)
}

// endSession detaches every listener and clears identity-scoped state.
func (e *Engine) endSession() {
	e.detachListeners()
	e.transition(func(s State) (State, bool) {
		s = clearIdentityScoped(s)
		s.CurrentUserID = ""
		s.Phase = PhaseSignedOut
		s.AuthReady = true
		return s, true
	})
}

// detachListeners closes every realtime listener. Snapshots still in flight
// for them are discarded as stale.
func (e *Engine) detachListeners() error {
	e.bind.Lock()
	defer e.bind.Unlock()
	err := e.registry.DetachAll()
	if err != nil {
		e.logger.Warn("Failed to close listeners", "error", err)
	}
	e.boundBox = ""
	return err
}

func clearIdentityScoped(s State) State {
	s.Boxes = nil
	s.Messages = nil
	s.Notifications = nil
	s.SelectedBoxID = ""
	s.Route = models.Route{Name: models.RouteHome}
	return s
}

// bindSession attaches the listeners of an active session.
func (e *Engine) bindSession(userID string) {
	e.bind.Lock()
	defer e.bind.Unlock()

	e.attach(TopicUsers, storage.Collection(models.CollectionUsers), applyUsers)
	e.attach(TopicBoxes,
		storage.Collection(models.CollectionBoxes).
			Where("participantIds", storage.OpArrayContains, userID),
		applyBoxes)
	e.attach(TopicNotifications,
		storage.Collection(models.CollectionNotifications).
			Where("audienceUserIds", storage.OpArrayContains, userID).
			OrderByDesc("createdAt"),
		applyNotifications)
	e.rebindMessagesLocked()
}

// rebindMessages points the messages listener at the selected box.
func (e *Engine) rebindMessages() {
	if !e.backend.Remote() {
		return
	}
	e.bind.Lock()
	defer e.bind.Unlock()
	e.rebindMessagesLocked()
}

func (e *Engine) rebindMessagesLocked() {
	s := e.Snapshot()
	if !s.SignedIn() || e.ctx.Err() != nil {
		return
	}
	if s.SelectedBoxID == e.boundBox && e.boundBox != "" {
		return
	}
	if s.SelectedBoxID == "" {
		if err := e.registry.Detach(TopicMessages); err != nil {
			e.logger.Warn("Failed to close listener", "topic", TopicMessages, "error", err)
		}
		e.boundBox = ""
		return
	}

	e.attach(TopicMessages,
		storage.Collection(models.CollectionMessages).
			Where("boxId", storage.OpEqual, s.SelectedBoxID).
			OrderByDesc("createdAt"),
		applyMessages)
	e.boundBox = s.SelectedBoxID
}

// attach subscribes q under topic. Snapshots for a replaced handle are
// dropped.
func (e *Engine) attach(topic Topic, q storage.Query, apply func(State, []storage.Record) State) {
	_, err := e.registry.Attach(topic, func(h Handle) (storage.Subscription, error) {
		return e.store.Subscribe(e.ctx, q, func(snap storage.Snapshot) {
			e.onSnapshot(h, snap, apply)
		})
	})
	if err != nil {
		e.logger.Error("Failed to attach listener", "topic", topic, "query", q.String(), "error", err)
	}
}

func (e *Engine) onSnapshot(h Handle, snap storage.Snapshot, apply func(State, []storage.Record) State) {
	applied := false
	before, after := e.transition(func(s State) (State, bool) {
		if !e.registry.Active(h) {
			return s, false
		}
		applied = true
		return apply(s, snap.Records), true
	})
	if !applied {
		e.metrics.stale.Inc()
		e.logger.Debug("Discarded stale snapshot", "topic", h.Topic)
		return
	}
	e.metrics.snapshots.WithLabelValues(string(h.Topic)).Inc()

	if before.SelectedBoxID != after.SelectedBoxID && e.ctx.Err() == nil {
		// Delivery may run under the store's publish lock or inside
		// bindSession, so the rebind cannot happen on this goroutine.
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			e.rebindMessages()
		}()
	}
}

func applyUsers(s State, records []storage.Record) State {
	s.Users = decodeAll[models.User](records)
	return s
}

// applyBoxes replaces the boxes and keeps the selection valid, falling back
// to the first box.
func applyBoxes(s State, records []storage.Record) State {
	s.Boxes = decodeAll[models.CommonBox](records)
	if _, ok := s.Box(s.SelectedBoxID); !ok {
		s.SelectedBoxID = ""
		if len(s.Boxes) > 0 {
			s.SelectedBoxID = s.Boxes[0].ID
		}
		s.Messages = nil
		if s.Route.BoxID != "" {
			s.Route = models.Route{Name: models.RouteHome, BoxID: s.SelectedBoxID}
		}
	}
	return s
}

func applyNotifications(s State, records []storage.Record) State {
	s.Notifications = decodeAll[models.Notification](records)
	return s
}

func applyMessages(s State, records []storage.Record) State {
	s.Messages = decodeAll[models.ChatMessage](records)
	return s
}

// decodeAll decodes records, skipping any that do not fit the model.
func decodeAll[T any](records []storage.Record) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := models.FromDocument(r.ID, r.Data, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
