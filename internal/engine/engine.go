// Package engine is the CommonBox sync engine: the single owner of client
// state. It runs in one of two modes fixed at construction. In local mode
// every mutation is applied in memory and is final. In remote mode the
// engine mirrors a document store through realtime listeners, applies
// mutations optimistically, commits them through a retry policy and rolls
// them back when the commit fails.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/mmynk/commonbox/internal/auth"
	"github.com/mmynk/commonbox/internal/models"
	"github.com/mmynk/commonbox/internal/persist"
	"github.com/mmynk/commonbox/internal/retry"
	"github.com/mmynk/commonbox/internal/seed"
	"github.com/mmynk/commonbox/internal/storage"
	"github.com/mmynk/commonbox/internal/toast"
)

// Config wires an Engine. Leaving Store nil selects local mode.
type Config struct {
	// Store and Auth enable remote mode. Both or neither must be set.
	Store storage.Store
	Auth  auth.Collaborator

	// Persist caches state between runs under Namespace. Optional.
	Persist   persist.Adapter
	Namespace string

	// Seed fills a local engine that has nothing persisted. Optional.
	Seed *seed.Data

	Retry      retry.Policy
	ToastTTL   time.Duration
	Registerer prometheus.Registerer
	Logger     *slog.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// sessionResumer is implemented by collaborators that can restore a
// session from a saved token, such as auth.RemoteClient.
type sessionResumer interface {
	Resume(ctx context.Context, token string) (*auth.Identity, error)
	Token() string
}

// Engine owns the client state. It is safe for concurrent use.
type Engine struct {
	backend   Backend
	remote    *RemoteBackend
	store     storage.Store
	auth      auth.Collaborator
	persist   persist.Adapter
	namespace string
	seed      *seed.Data
	toasts    *toast.Surface
	registry  *Registry
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	// notify serializes a transition with its watcher callbacks, so that
	// watchers see versions in order. It is always taken before mu.
	notify   sync.Mutex
	mu       sync.Mutex
	state    State
	watchers map[int]func(State)
	nextW    int

	// session counts identity changes; provisioning for an outdated
	// identity is abandoned.
	session      uint64
	provisionErr error
	authCancel   func()

	// bind serializes message listener rebinding.
	bind     sync.Mutex
	boundBox string

	saveGate   sync.Mutex // guards saveCh against sends after close
	saveClosed bool
	saveCh     chan struct{}
	saveMu     sync.Mutex
	savedVer   uint64
	saverDone  chan struct{}

	started   bool
	closeOnce sync.Once
}

// New builds an engine. Call Start before using it.
func New(cfg Config) (*Engine, error) {
	if (cfg.Store == nil) != (cfg.Auth == nil) {
		return nil, errors.New("engine: remote mode needs both a store and an auth collaborator")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = persist.DefaultNamespace
	}
	if cfg.Retry.IsZero() {
		cfg.Retry = retry.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:     cfg.Store,
		auth:      cfg.Auth,
		persist:   cfg.Persist,
		namespace: cfg.Namespace,
		seed:      cfg.Seed,
		registry:  NewRegistry(),
		metrics:   NewMetrics(cfg.Registerer),
		logger:    cfg.Logger,
		now:       cfg.Now,
		newID:     cfg.NewID,
		ctx:       ctx,
		cancel:    cancel,
		watchers:  make(map[int]func(State)),
		saveCh:    make(chan struct{}, 1),
		saverDone: make(chan struct{}),
	}

	if cfg.Store != nil {
		e.remote = NewRemoteBackend(cfg.Store, cfg.Retry, cfg.Logger)
		e.backend = e.remote
	} else {
		e.backend = LocalBackend{}
	}

	e.state = State{
		Theme:         models.ThemeLight,
		Route:         models.Route{Name: models.RouteHome},
		Phase:         PhaseSignedOut,
		RemoteEnabled: e.backend.Remote(),
	}
	e.toasts = toast.New(cfg.ToastTTL, func(t *toast.Toast) {
		e.transition(func(s State) (State, bool) {
			s.Toast = t
			return s, true
		})
	})
	return e, nil
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Start restores persisted state, seeds a fresh local engine, and in remote
// mode resumes any saved session and starts following identity changes.
// HasHydrated is true once Start returns.
func (e *Engine) Start(ctx context.Context) error {
	snap, err := e.load(ctx)
	if err != nil {
		e.logger.Warn("Failed to restore cached state", "namespace", e.namespace, "error", err)
	}

	e.transition(func(s State) (State, bool) {
		switch {
		case snap != nil:
			s = hydrate(s, snap)
		case e.seed != nil && !e.backend.Remote():
			s.Users = slices.Clone(e.seed.Users)
			s.Boxes = slices.Clone(e.seed.Boxes)
			s.SelectedBoxID = e.seed.SelectedBoxID
			s.Route = models.Route{Name: models.RouteHome, BoxID: e.seed.SelectedBoxID}
		}
		if !e.backend.Remote() {
			s.AuthReady = true
			if _, ok := s.CurrentUser(); ok {
				s.Phase = PhaseActive
			} else {
				s.CurrentUserID = ""
				s.Phase = PhaseSignedOut
			}
		}
		s.HasHydrated = true
		return s, true
	})

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	go e.saver()

	if !e.backend.Remote() {
		return nil
	}

	if r, ok := e.auth.(sessionResumer); ok && snap != nil && snap.AuthToken != "" {
		if _, err := r.Resume(ctx, snap.AuthToken); err != nil {
			e.logger.Warn("Saved session could not be resumed", "error", err)
		}
	}
	cancel := e.auth.OnIdentityChange(e.onIdentity)

	e.mu.Lock()
	e.authCancel = cancel
	e.mu.Unlock()
	return nil
}

// Close detaches every listener, stops following identity changes and the
// toast timer, and flushes the cache.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		cancelAuth := e.authCancel
		e.authCancel = nil
		e.mu.Unlock()
		if cancelAuth != nil {
			cancelAuth()
		}

		err = e.detachListeners()

		e.cancel()
		e.bg.Wait()
		e.toasts.Close()

		e.saveGate.Lock()
		e.saveClosed = true
		close(e.saveCh)
		e.saveGate.Unlock()
		e.mu.Lock()
		started := e.started
		e.mu.Unlock()
		if started {
			<-e.saverDone
		}
		if ferr := e.save(context.Background()); ferr != nil {
			err = multierr.Append(err, ferr)
		}
	})
	return err
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Watch calls fn with the state after every change until cancel is called.
// fn runs synchronously and must not call mutating engine methods; reading
// Snapshot is fine.
func (e *Engine) Watch(fn func(State)) (cancel func()) {
	e.mu.Lock()
	e.nextW++
	id := e.nextW
	e.watchers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.watchers, id)
		e.mu.Unlock()
	}
}

// transition applies fn to the state. When fn reports a change the version
// is bumped, watchers are notified and a save is scheduled. It returns the
// state before and after.
func (e *Engine) transition(fn func(State) (State, bool)) (before, after State) {
	e.notify.Lock()
	defer e.notify.Unlock()

	e.mu.Lock()
	before = e.state
	next, changed := fn(before)
	if !changed {
		e.mu.Unlock()
		return before, before
	}
	next.Version = before.Version + 1
	e.state = next
	keys := slices.Sorted(maps.Keys(e.watchers))
	fns := make([]func(State), 0, len(keys))
	for _, k := range keys {
		fns = append(fns, e.watchers[k])
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
	e.scheduleSave()
	return before, next
}

// change is a prepared mutation: the optimistic next state plus the writes
// that make it durable.
type change struct {
	next    State
	touched field
	writes  []storage.WriteOp
	success string
}

// mutate runs one operation. prepare validates against the current state
// and returns the change, an error, or nil for a silent no-op. In remote
// mode a failed commit restores the touched fields and returns a
// RemoteCommitError.
func (e *Engine) mutate(ctx context.Context, op string, prepare func(State) (*change, error)) error {
	var (
		ch      *change
		prepErr error
	)
	before, _ := e.transition(func(s State) (State, bool) {
		ch, prepErr = prepare(s)
		if prepErr != nil || ch == nil {
			return s, false
		}
		return ch.next, true
	})
	if prepErr != nil {
		e.toasts.Error(userMessage(prepErr))
		return prepErr
	}
	if ch == nil {
		e.logger.Debug("Operation skipped", "op", op)
		return nil
	}

	if err := e.backend.Commit(ctx, op, ch.writes); err != nil {
		e.transition(func(s State) (State, bool) {
			return restore(s, before, ch.touched), true
		})
		e.metrics.commits.WithLabelValues(op, "error").Inc()
		e.metrics.rollbacks.WithLabelValues(op).Inc()
		e.logger.Error("Remote commit failed, change rolled back", "op", op, "error", err)

		rerr := &RemoteCommitError{Op: op, Err: err}
		e.toasts.Error(userMessage(rerr))
		return rerr
	}

	e.metrics.commits.WithLabelValues(op, "ok").Inc()
	if ch.success != "" {
		e.toasts.Success(ch.success)
	}
	return nil
}

// userMessage turns an error into toast text.
func userMessage(err error) string {
	var rerr *RemoteCommitError
	if errors.As(err, &rerr) {
		return "Could not save your change. It has been undone."
	}
	return sentence(err.Error())
}

func sentence(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	if last := b[len(b)-1]; last != '.' && last != '!' && last != '?' {
		b = append(b, '.')
	}
	return string(b)
}

func (e *Engine) load(ctx context.Context) (*persist.Snapshot, error) {
	if e.persist == nil {
		return nil, nil
	}
	snap, err := e.persist.Load(ctx, e.namespace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", e.namespace, err)
	}
	return snap, nil
}

func hydrate(s State, snap *persist.Snapshot) State {
	if snap.Theme != "" {
		s.Theme = snap.Theme
	}
	s.Users = snap.Users
	s.Boxes = snap.Boxes
	s.Messages = snap.Messages
	s.Notifications = snap.Notifications
	s.CurrentUserID = snap.CurrentUserID
	s.SelectedBoxID = snap.SelectedBoxID
	if snap.Route.Name.Valid() {
		s.Route = snap.Route
	}
	return s
}

func (e *Engine) scheduleSave() {
	if e.persist == nil {
		return
	}
	e.saveGate.Lock()
	defer e.saveGate.Unlock()
	if e.saveClosed {
		return
	}
	select {
	case e.saveCh <- struct{}{}:
	default:
	}
}

// saver writes the latest state whenever a change is scheduled.
func (e *Engine) saver() {
	defer close(e.saverDone)
	for range e.saveCh {
		if err := e.save(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Warn("Failed to cache state", "error", err)
		}
	}
}

// save persists the current state unless a newer or equal version has
// already been written.
func (e *Engine) save(ctx context.Context) error {
	if e.persist == nil {
		return nil
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	s := e.Snapshot()
	if s.Version <= e.savedVer {
		return nil
	}

	snap := persist.Snapshot{
		Theme:         s.Theme,
		Users:         s.Users,
		Boxes:         s.Boxes,
		Messages:      s.Messages,
		Notifications: s.Notifications,
		CurrentUserID: s.CurrentUserID,
		SelectedBoxID: s.SelectedBoxID,
		Route:         s.Route,
	}
	if r, ok := e.auth.(sessionResumer); ok {
		snap.AuthToken = r.Token()
	}
	if err := e.persist.Save(ctx, e.namespace, snap); err != nil {
		return err
	}
	e.savedVer = s.Version
	return nil
}
