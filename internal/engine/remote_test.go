package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/commonbox/internal/auth"
	"github.com/mmynk/commonbox/internal/models"
	"github.com/mmynk/commonbox/internal/persist"
	"github.com/mmynk/commonbox/internal/retry"
	"github.com/mmynk/commonbox/internal/storage"
	"github.com/mmynk/commonbox/internal/storage/memstore"
	"github.com/mmynk/commonbox/internal/toast"
)

var errUnavailable = errors.New("backend unavailable")

// flakyStore fails commits or reads on demand and records every listener
// it hands out.
type flakyStore struct {
	storage.Store

	failCommit atomic.Bool
	failGet    atomic.Bool
	commits    atomic.Int32

	mu        sync.Mutex
	listeners []captured
}

type captured struct {
	query storage.Query
	fn    storage.Listener
}

func (f *flakyStore) Commit(ctx context.Context, writes []storage.WriteOp) error {
	f.commits.Add(1)
	if f.failCommit.Load() {
		return errUnavailable
	}
	return f.Store.Commit(ctx, writes)
}

func (f *flakyStore) Get(ctx context.Context, collection, id string) (storage.Document, error) {
	if f.failGet.Load() {
		return nil, errUnavailable
	}
	return f.Store.Get(ctx, collection, id)
}

func (f *flakyStore) Subscribe(ctx context.Context, q storage.Query, fn storage.Listener) (storage.Subscription, error) {
	f.mu.Lock()
	f.listeners = append(f.listeners, captured{query: q, fn: fn})
	f.mu.Unlock()
	return f.Store.Subscribe(ctx, q, fn)
}

// messageListener returns the first listener opened for boxID's messages.
func (f *flakyStore) messageListener(boxID string) storage.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.listeners {
		if c.query.Collection == models.CollectionMessages && len(c.query.Filters) == 1 && c.query.Filters[0].Value == boxID {
			return c.fn
		}
	}
	return nil
}

type remoteHarness struct {
	live   *storage.Live
	store  *flakyStore
	engine *Engine
}

func newRemote(t *testing.T) *remoteHarness {
	t.Helper()

	live := storage.NewLive(memstore.New(), nil)
	collab := auth.NewInProcess(auth.NewPasswordAuthenticator(auth.NewDocumentAccounts(live)).WithCost(bcrypt.MinCost))
	store := &flakyStore{Store: live}

	e, err := New(Config{
		Store:      store,
		Auth:       collab,
		Retry:      retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond},
		ToastTTL:   time.Minute,
		Registerer: prometheus.NewRegistry(),
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		e.Close()
		live.Close()
	})
	return &remoteHarness{live: live, store: store, engine: e}
}

func (h *remoteHarness) putUser(t *testing.T, id, name, email string) {
	t.Helper()
	err := h.live.Set(context.Background(), models.CollectionUsers, id, storage.Document{
		"id":        id,
		"name":      name,
		"email":     email,
		"friendIds": []any{},
	})
	require.NoError(t, err)
}

func TestRemoteSessionLifecycle(t *testing.T) {
	h := newRemote(t)
	e := h.engine
	ctx := context.Background()

	s := e.Snapshot()
	assert.True(t, s.RemoteEnabled)
	assert.True(t, s.AuthReady)
	assert.Equal(t, PhaseSignedOut, s.Phase)

	require.NoError(t, e.SignUp(ctx, "Mina", "mina@x.io", "pw1234"))

	s = e.Snapshot()
	assert.Equal(t, PhaseActive, s.Phase)
	require.NotEmpty(t, s.CurrentUserID)
	me, ok := s.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "Mina", me.Name)
	assert.Equal(t, "mina@x.io", me.Email)

	doc, err := h.live.Get(ctx, models.CollectionUsers, s.CurrentUserID)
	require.NoError(t, err)
	assert.Equal(t, "Mina", doc["name"])
	assert.Equal(t, []Topic{TopicBoxes, TopicNotifications, TopicUsers}, e.registry.Topics())

	require.NoError(t, e.SignOut(ctx))

	s = e.Snapshot()
	assert.Equal(t, PhaseSignedOut, s.Phase)
	assert.Empty(t, s.CurrentUserID)
	assert.Empty(t, s.Boxes)
	assert.Empty(t, e.registry.Topics())
	assert.Zero(t, h.live.Subscribers())

	t.Run("sign in again reuses the profile", func(t *testing.T) {
		require.NoError(t, e.SignIn(ctx, "MINA@x.io", "pw1234"))
		assert.Equal(t, me.ID, e.Snapshot().CurrentUserID)
	})

	t.Run("wrong password", func(t *testing.T) {
		require.NoError(t, e.SignOut(ctx))
		err := e.SignIn(ctx, "mina@x.io", "nope-nope")
		var aerr *AuthError
		require.ErrorAs(t, err, &aerr)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		assert.Equal(t, "Login failed. Check email/password.", e.Snapshot().Toast.Message)
	})

	t.Run("duplicate sign up", func(t *testing.T) {
		err := e.SignUp(ctx, "Mina", "mina@x.io", "pw1234")
		assert.ErrorIs(t, err, auth.ErrEmailExists)
		assert.Equal(t, "Email already exists.", e.Snapshot().Toast.Message)
	})
}

func TestRemoteProvisioningFailure(t *testing.T) {
	h := newRemote(t)
	h.store.failGet.Store(true)

	err := h.engine.SignUp(context.Background(), "Ava", "ava@x.io", "pw1234")

	var rerr *RemoteCommitError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, errUnavailable)

	s := h.engine.Snapshot()
	assert.Equal(t, PhaseSignedOut, s.Phase)
	assert.Empty(t, s.CurrentUserID)
	assert.Equal(t, "Could not load your profile. Please sign in again.", s.Toast.Message)
}

func TestRemoteAddItemRollbackIsExact(t *testing.T) {
	h := newRemote(t)
	e := h.engine
	ctx := context.Background()
	require.NoError(t, e.SignUp(ctx, "Ava", "ava@x.io", "pw1234"))
	me := e.Snapshot().CurrentUserID

	boxID, err := e.AddBox(ctx, "Fridge", nil)
	require.NoError(t, err)
	require.NoError(t, e.AddItem(ctx, boxID, "Milk", me))
	before, ok := e.Snapshot().Box(boxID)
	require.True(t, ok)
	require.Len(t, before.Items, 1)

	h.store.failCommit.Store(true)
	commits := h.store.commits.Load()

	err = e.AddItem(ctx, boxID, "Eggs", me)

	var rerr *RemoteCommitError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OpAddItem, rerr.Op)
	assert.Equal(t, int32(3), h.store.commits.Load()-commits)

	after, _ := e.Snapshot().Box(boxID)
	assert.Equal(t, before, after)

	stored, err := h.live.Get(ctx, models.CollectionBoxes, boxID)
	require.NoError(t, err)
	assert.Len(t, stored["items"], 1)

	assert.Equal(t, "Could not save your change. It has been undone.", e.Snapshot().Toast.Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().Rollbacks().WithLabelValues(OpAddItem)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().Commits().WithLabelValues(OpAddItem, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().Commits().WithLabelValues(OpAddItem, "ok")))
}

// rollbackFixture is a signed-in Ava sharing a box with Ravi. Ravi owns an
// item in it and Ava has an unseen notification.
type rollbackFixture struct {
	h      *remoteHarness
	boxID  string
	itemID string
	noteID string
}

func newRollbackFixture(t *testing.T) rollbackFixture {
	t.Helper()
	h := newRemote(t)
	e := h.engine
	ctx := context.Background()
	require.NoError(t, e.SignUp(ctx, "Ava", "ava@x.io", "pw1234"))
	me := e.Snapshot().CurrentUserID
	h.putUser(t, "ravi", "Ravi", "ravi@x.io")

	boxID, err := e.AddBox(ctx, "Fridge", []string{"ravi"})
	require.NoError(t, err)
	require.NoError(t, e.AddItem(ctx, boxID, "Milk", "ravi"))
	box, _ := e.Snapshot().Box(boxID)
	require.Len(t, box.Items, 1)

	err = h.live.Set(ctx, models.CollectionNotifications, "note-1", storage.Document{
		"id":              "note-1",
		"actorUserId":     "ravi",
		"audienceUserIds": []any{me, "ravi"},
		"message":         "Ravi says hi.",
		"type":            string(models.NotificationFriendAdded),
		"createdAt":       testNow.Format(time.RFC3339Nano),
		"seenBy":          []any{"ravi"},
	})
	require.NoError(t, err)
	_, ok := e.Snapshot().Notification("note-1")
	require.True(t, ok)

	return rollbackFixture{h: h, boxID: boxID, itemID: box.Items[0].ID, noteID: "note-1"}
}

func TestRemoteCommitFailureRollsBack(t *testing.T) {
	tests := []struct {
		name string
		op   string
		run  func(ctx context.Context, e *Engine, f rollbackFixture) error
	}{
		{
			name: "raise concern",
			op:   OpRaiseConcern,
			run: func(ctx context.Context, e *Engine, f rollbackFixture) error {
				e.RaiseConcern(ctx, f.boxID, f.itemID)
				return nil
			},
		},
		{
			name: "claim ownership",
			op:   OpClaimOwnership,
			run: func(ctx context.Context, e *Engine, f rollbackFixture) error {
				e.ClaimOwnership(ctx, f.boxID, f.itemID)
				return nil
			},
		},
		{
			name: "mark seen",
			op:   OpMarkSeen,
			run: func(ctx context.Context, e *Engine, f rollbackFixture) error {
				e.MarkNotificationSeen(ctx, f.noteID)
				return nil
			},
		},
		{
			name: "add box",
			op:   OpAddBox,
			run: func(ctx context.Context, e *Engine, f rollbackFixture) error {
				_, err := e.AddBox(ctx, "Pantry", nil)
				return err
			},
		},
		{
			name: "send message",
			op:   OpSendMessage,
			run: func(ctx context.Context, e *Engine, f rollbackFixture) error {
				return e.SendMessage(ctx, f.boxID, "anyone seen the milk?")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRollbackFixture(t)
			e := f.h.engine
			before := e.Snapshot()
			f.h.store.failCommit.Store(true)

			err := tt.run(context.Background(), e, f)
			if err != nil {
				var rerr *RemoteCommitError
				require.ErrorAs(t, err, &rerr)
				assert.Equal(t, tt.op, rerr.Op)
			}

			after := e.Snapshot()
			assert.Equal(t, before.Users, after.Users)
			assert.Equal(t, before.Boxes, after.Boxes)
			assert.Equal(t, before.Messages, after.Messages)
			assert.Equal(t, before.Notifications, after.Notifications)
			assert.Equal(t, before.SelectedBoxID, after.SelectedBoxID)
			assert.Equal(t, before.Route, after.Route)

			require.NotNil(t, after.Toast)
			assert.Equal(t, toast.ToneError, after.Toast.Tone)
			assert.Equal(t, "Could not save your change. It has been undone.", after.Toast.Message)
			assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().Rollbacks().WithLabelValues(tt.op)))

			e.bind.Lock()
			bound := e.boundBox
			e.bind.Unlock()
			assert.Equal(t, f.boxID, bound)
		})
	}
}

func TestRemoteSendMessageToOtherBoxKeepsSelectedStream(t *testing.T) {
	f := newRollbackFixture(t)
	e := f.h.engine
	ctx := context.Background()

	other, err := e.AddBox(ctx, "Pantry", nil)
	require.NoError(t, err)
	require.NoError(t, e.SelectBox(f.boxID))

	require.NoError(t, e.SendMessage(ctx, other, "stock up on rice"))

	for _, m := range e.Snapshot().Messages {
		assert.Equal(t, f.boxID, m.BoxID)
	}
	stored, err := f.h.live.Query(ctx, storage.Collection(models.CollectionMessages).Where("boxId", storage.OpEqual, other))
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRemoteIdentitySwitchDetachesPreviousListeners(t *testing.T) {
	h := newRemote(t)
	e := h.engine
	ctx := context.Background()
	require.NoError(t, e.SignUp(ctx, "Ava", "ava@x.io", "pw1234"))
	avaBox, err := e.AddBox(ctx, "Ava's shelf", nil)
	require.NoError(t, err)

	t.Run("provisioning fails", func(t *testing.T) {
		h.store.failGet.Store(true)
		err := e.SignUp(ctx, "Ravi", "ravi@x.io", "pw1234")
		h.store.failGet.Store(false)

		var rerr *RemoteCommitError
		require.ErrorAs(t, err, &rerr)

		s := e.Snapshot()
		assert.Equal(t, PhaseSignedOut, s.Phase)
		assert.Empty(t, s.CurrentUserID)
		assert.Empty(t, s.Boxes)
		assert.Empty(t, e.registry.Topics())
		assert.Zero(t, h.live.Subscribers())

		require.NoError(t, h.live.Update(ctx, models.CollectionBoxes, avaBox, storage.Document{"name": "Ava secret"}))
		assert.Empty(t, e.Snapshot().Boxes)
	})

	t.Run("provisioning succeeds", func(t *testing.T) {
		require.NoError(t, e.SignIn(ctx, "ava@x.io", "pw1234"))
		_, ok := e.Snapshot().Box(avaBox)
		require.True(t, ok)

		require.NoError(t, e.SignIn(ctx, "ravi@x.io", "pw1234"))
		s := e.Snapshot()
		assert.Equal(t, PhaseActive, s.Phase)
		me, _ := s.CurrentUser()
		assert.Equal(t, "Ravi", me.Name)
		assert.Empty(t, s.Boxes)
		assert.Equal(t, 3, h.live.Subscribers())

		require.NoError(t, h.live.Update(ctx, models.CollectionBoxes, avaBox, storage.Document{"name": "Ava secret again"}))
		assert.Empty(t, e.Snapshot().Boxes)
	})
}

func TestRemoteAddItemForNonParticipantNeverCommits(t *testing.T) {
	h := newRemote(t)
	e := h.engine
	ctx := context.Background()
	require.NoError(t, e.SignUp(ctx, "Ava", "ava@x.io", "pw1234"))
	h.putUser(t, "ravi", "Ravi", "ravi@x.io")

	boxID, err := e.AddBox(ctx, "Fridge", nil)
	require.NoError(t, err)
	commits := h.store.commits.Load()

	err = e.AddItem(ctx, boxID, "Milk", "ravi")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, commits, h.store.commits.Load())
	box, _ := e.Snapshot().Box(boxID)
	assert.Empty(t, box.Items)
}

func TestRemoteAddFriendBatchFailureRollsBack(t *testing.T) {
	h := newRemote(t)
	e := h.engine
	ctx := context.Background()
	require.NoError(t, e.SignUp(ctx, "Ava", "ava@x.io", "pw1234"))
	me := e.Snapshot().CurrentUserID
	h.putUser(t, "ravi", "Ravi", "ravi@x.io")
	require.Eventually(t, func() bool {
		_, ok := e.Snapshot().User("ravi")
		return ok
	}, time.Second, 5*time.Millisecond)

	h.store.failCommit.Store(true)
	err := e.AddFriendByEmail(ctx, "ravi@x.io")

	var rerr *RemoteCommitError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OpAddFriend, rerr.Op)

	s := e.Snapshot()
	ava, _ := s.User(me)
	ravi, _ := s.User("ravi")
	assert.Empty(t, ava.FriendIDs)
	assert.Empty(t, ravi.FriendIDs)
	assert.Empty(t, s.Notifications)

	stored, err := h.live.Query(ctx, storage.Collection(models.CollectionNotifications))
	require.NoError(t, err)
	assert.Empty(t, stored)

	h.store.failCommit.Store(false)
	require.NoError(t, e.AddFriendByEmail(ctx, "ravi@x.io"))

	raviDoc, err := h.live.Get(ctx, models.CollectionUsers, "ravi")
	require.NoError(t, err)
	assert.Equal(t, []any{me}, raviDoc["friendIds"])
	s = e.Snapshot()
	require.Len(t, s.Notifications, 1)
	assert.Equal(t, "Ava added Ravi as a friend.", s.Notifications[0].Message)
}

func TestRemoteFriendsAndNotificationsAcrossUsers(t *testing.T) {
	h := newRemote(t)
	e := h.engine
	ctx := context.Background()

	require.NoError(t, e.SignUp(ctx, "Ravi", "ravi@x.io", "pw1234"))
	ravi := e.Snapshot().CurrentUserID
	require.NoError(t, e.SignOut(ctx))

	require.NoError(t, e.SignUp(ctx, "Ava", "ava@x.io", "pw1234"))
	require.NoError(t, e.AddFriendByEmail(ctx, "RAVI@x.io"))
	boxID, err := e.AddBox(ctx, "Fridge", []string{ravi})
	require.NoError(t, err)
	require.NoError(t, e.SignOut(ctx))

	require.NoError(t, e.SignIn(ctx, "ravi@x.io", "pw1234"))
	s := e.Snapshot()
	require.Len(t, s.Notifications, 1)
	n := s.Notifications[0]
	assert.False(t, n.SeenByUser(ravi))
	me, _ := s.CurrentUser()
	assert.Len(t, me.FriendIDs, 1)

	box, ok := s.Box(boxID)
	require.True(t, ok)
	assert.Equal(t, boxID, s.SelectedBoxID)
	assert.True(t, box.HasParticipant(ravi))

	e.MarkNotificationSeen(ctx, n.ID)
	e.MarkNotificationSeen(ctx, n.ID)

	doc, err := h.live.Get(ctx, models.CollectionNotifications, n.ID)
	require.NoError(t, err)
	assert.Len(t, doc["seenBy"], 2)
	got, _ := e.Snapshot().Notification(n.ID)
	assert.True(t, got.SeenByUser(ravi))
}

func TestRemoteSnapshotsReconcileOtherWriters(t *testing.T) {
	h := newRemote(t)
	e := h.engine
	ctx := context.Background()
	require.NoError(t, e.SignUp(ctx, "Ava", "ava@x.io", "pw1234"))
	me := e.Snapshot().CurrentUserID

	boxID, err := e.AddBox(ctx, "Fridge", nil)
	require.NoError(t, err)

	err = h.live.Set(ctx, models.CollectionMessages, "m-1", storage.Document{
		"id":           "m-1",
		"boxId":        boxID,
		"senderUserId": me,
		"text":         "hello from another device",
		"createdAt":    testNow.Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	msgs := e.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello from another device", msgs[0].Text)

	// A box the user is removed from disappears and the selection moves.
	err = h.live.Update(ctx, models.CollectionBoxes, boxID, storage.Document{"participantIds": []any{"someone-else"}})
	require.NoError(t, err)

	s := e.Snapshot()
	assert.Empty(t, s.Boxes)
	assert.Empty(t, s.SelectedBoxID)
	assert.Empty(t, s.Messages)
}

func TestSelectBoxSwitchesMessageStream(t *testing.T) {
	h := newRemote(t)
	e := h.engine
	ctx := context.Background()
	require.NoError(t, e.SignUp(ctx, "Ava", "ava@x.io", "pw1234"))

	boxA, err := e.AddBox(ctx, "Fridge", nil)
	require.NoError(t, err)
	require.NoError(t, e.SendMessage(ctx, boxA, "in A"))

	boxB, err := e.AddBox(ctx, "Pantry", nil)
	require.NoError(t, err)
	require.NoError(t, e.SendMessage(ctx, boxB, "in B"))

	require.NoError(t, e.SelectBox(boxB))
	require.NoError(t, e.SelectBox(boxA))

	s := e.Snapshot()
	assert.Equal(t, boxA, s.SelectedBoxID)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "in A", s.Messages[0].Text)
	assert.Contains(t, e.registry.Topics(), TopicMessages)

	// A late delivery from the detached B listener is discarded.
	late := h.store.messageListener(boxB)
	require.NotNil(t, late)
	late(storage.Snapshot{Records: []storage.Record{{ID: "m-late", Data: storage.Document{
		"boxId": boxB, "text": "late", "senderUserId": "x", "createdAt": testNow.Format(time.RFC3339Nano),
	}}}})

	s = e.Snapshot()
	require.Len(t, s.Messages, 1)
	assert.Equal(t, boxA, s.Messages[0].BoxID)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().Stale()))

	// New B traffic no longer reaches the client.
	require.NoError(t, h.live.Set(ctx, models.CollectionMessages, "m-b2", storage.Document{
		"boxId": boxB, "text": "more B", "senderUserId": "x", "createdAt": testNow.Format(time.RFC3339Nano),
	}))
	for _, m := range e.Snapshot().Messages {
		assert.Equal(t, boxA, m.BoxID)
	}
}

func TestRemoteSendMessageRequiresParticipant(t *testing.T) {
	h := newRemote(t)
	e := h.engine
	ctx := context.Background()
	require.NoError(t, e.SignUp(ctx, "Ava", "ava@x.io", "pw1234"))

	err := e.SendMessage(ctx, "no-such-box", "hi")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoteSessionResumesFromCache(t *testing.T) {
	collab := &resumingCollab{InProcess: auth.NewInProcess(nil)}
	live := storage.NewLive(memstore.New(), nil)
	t.Cleanup(func() { live.Close() })

	e, err := New(Config{Store: live, Auth: collab, Persist: newTokenCache("tok-1")})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Close() })

	assert.Equal(t, "tok-1", collab.resumed)
}

// resumingCollab records the token it is asked to resume.
type resumingCollab struct {
	*auth.InProcess
	resumed string
}

func (c *resumingCollab) Resume(ctx context.Context, token string) (*auth.Identity, error) {
	c.resumed = token
	return nil, auth.ErrInvalidToken
}

func (c *resumingCollab) Token() string { return c.resumed }

func newTokenCache(token string) persist.Adapter {
	cache := persist.NewMemory()
	_ = cache.Save(context.Background(), persist.DefaultNamespace, persist.Snapshot{AuthToken: token})
	return cache
}

var (
	errCloseListener = errors.New("listener close failed")
	errSaveCache     = errors.New("cache full")
)

// stickyStore hands out subscriptions whose Close reports an error.
type stickyStore struct {
	storage.Store
}

type stickySub struct {
	storage.Subscription
}

func (s stickySub) Close() error {
	_ = s.Subscription.Close()
	return errCloseListener
}

func (s stickyStore) Subscribe(ctx context.Context, q storage.Query, fn storage.Listener) (storage.Subscription, error) {
	sub, err := s.Store.Subscribe(ctx, q, fn)
	if err != nil {
		return nil, err
	}
	return stickySub{sub}, nil
}

type fullCache struct{}

func (fullCache) Load(context.Context, string) (*persist.Snapshot, error) { return nil, nil }

func (fullCache) Save(context.Context, string, persist.Snapshot) error { return errSaveCache }

func TestCloseAggregatesTeardownErrors(t *testing.T) {
	live := storage.NewLive(memstore.New(), nil)
	t.Cleanup(func() { live.Close() })
	collab := auth.NewInProcess(auth.NewPasswordAuthenticator(auth.NewDocumentAccounts(live)).WithCost(bcrypt.MinCost))

	e, err := New(Config{Store: stickyStore{live}, Auth: collab, Persist: fullCache{}})
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.SignUp(context.Background(), "Ava", "ava@x.io", "pw1234"))
	require.Len(t, e.registry.Topics(), 3)

	err = e.Close()
	errs := multierr.Errors(err)
	require.Len(t, errs, 4)
	for _, got := range errs[:3] {
		assert.ErrorIs(t, got, errCloseListener)
	}
	assert.ErrorIs(t, errs[3], errSaveCache)
	assert.Zero(t, live.Subscribers())

	assert.NoError(t, e.Close())
}
