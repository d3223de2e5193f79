// Package remote implements storage.Store against a CommonBox document server.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"connectrpc.com/connect"
	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/commonbox/internal/retry"
	"github.com/mmynk/commonbox/internal/storage"
	"github.com/mmynk/commonbox/pkg/api"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

// readLimit bounds a single snapshot frame.
const readLimit = 16 << 20

// TokenSource returns the current bearer token, or "" when signed out.
type TokenSource func() string

// Store is a storage.Store backed by a remote server. Unary operations are
// Connect RPCs; each subscription holds its own WebSocket.
type Store struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	reconnect  retry.Policy
	logger     *slog.Logger

	get    *connect.Client[structpb.Struct, structpb.Struct]
	query  *connect.Client[structpb.Struct, structpb.Struct]
	commit *connect.Client[structpb.Struct, structpb.Struct]

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient sets the client used for RPCs and WebSocket dials.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithReconnect sets the policy for re-establishing dropped subscriptions.
func WithReconnect(p retry.Policy) Option {
	return func(s *Store) { s.reconnect = p }
}

// New creates a Store for the server at baseURL.
func New(baseURL string, token TokenSource, opts ...Option) *Store {
	s := &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		token:      token,
		reconnect:  retry.Default(),
		logger:     slog.Default(),
		subs:       make(map[*subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	clientOpts := []connect.ClientOption{connect.WithInterceptors(s.bearer())}
	s.get = connect.NewClient[structpb.Struct, structpb.Struct](s.httpClient, s.baseURL+api.GetProcedure, clientOpts...)
	s.query = connect.NewClient[structpb.Struct, structpb.Struct](s.httpClient, s.baseURL+api.QueryProcedure, clientOpts...)
	s.commit = connect.NewClient[structpb.Struct, structpb.Struct](s.httpClient, s.baseURL+api.CommitProcedure, clientOpts...)
	return s
}

func (s *Store) bearer() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if tok := s.authToken(); tok != "" {
				req.Header().Set("Authorization", "Bearer "+tok)
			}
			return next(ctx, req)
		}
	}
}

func (s *Store) authToken() string {
	if s.token == nil {
		return ""
	}
	return s.token()
}

func (s *Store) Get(ctx context.Context, collection, id string) (storage.Document, error) {
	msg, err := api.EncodeGetRequest(collection, id)
	if err != nil {
		return nil, err
	}
	resp, err := s.get.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, mapError(fmt.Sprintf("get %s/%s", collection, id), err)
	}
	return api.DecodeGetResponse(resp.Msg), nil
}

func (s *Store) Query(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	msg, err := api.EncodeQuery(q)
	if err != nil {
		return nil, err
	}
	resp, err := s.query.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return nil, mapError("query "+q.Collection, err)
	}
	return api.DecodeRecords(resp.Msg), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, doc storage.Document) error {
	return s.Commit(ctx, []storage.WriteOp{storage.SetOp(collection, id, doc)})
}

func (s *Store) Update(ctx context.Context, collection, id string, patch storage.Document) error {
	return s.Commit(ctx, []storage.WriteOp{storage.UpdateOp(collection, id, patch)})
}

func (s *Store) Commit(ctx context.Context, writes []storage.WriteOp) error {
	if err := storage.ValidateWrites(writes); err != nil {
		return err
	}
	msg, err := api.EncodeWrites(writes)
	if err != nil {
		return err
	}
	if _, err := s.commit.CallUnary(ctx, connect.NewRequest(msg)); err != nil {
		return mapError("commit", err)
	}
	return nil
}

// Subscribe dials a subscription socket, delivers the first snapshot before
// returning, and keeps delivering from a background goroutine. A dropped
// socket is re-dialed under the reconnect policy; when that is exhausted the
// subscription stops silently after logging.
func (s *Store) Subscribe(ctx context.Context, q storage.Query, fn storage.Listener) (storage.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{store: s, query: q, fn: fn, cancel: cancel}

	conn, first, err := s.dial(subCtx, q)
	if err != nil {
		cancel()
		return nil, err
	}
	sub.deliver(first)

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.run(subCtx, conn)
	return sub, nil
}

// Close closes every open subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

// dial opens a socket for q and reads the initial snapshot.
func (s *Store) dial(ctx context.Context, q storage.Query) (*ws.Conn, api.SnapshotFrame, error) {
	header := http.Header{}
	if tok := s.authToken(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, _, err := ws.Dial(ctx, s.baseURL+api.SubscribePath, &ws.DialOptions{
		HTTPClient: s.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, api.SnapshotFrame{}, fmt.Errorf("dial subscription: %w", err)
	}
	conn.SetReadLimit(readLimit)

	if err := wsjson.Write(ctx, conn, api.SubscribeRequest{Query: q}); err != nil {
		conn.CloseNow()
		return nil, api.SnapshotFrame{}, fmt.Errorf("send subscribe request: %w", err)
	}

	first, err := readFrame(ctx, conn)
	if err != nil {
		conn.CloseNow()
		return nil, api.SnapshotFrame{}, err
	}
	return conn, first, nil
}

func readFrame(ctx context.Context, conn *ws.Conn) (api.SnapshotFrame, error) {
	var frame api.SnapshotFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		return api.SnapshotFrame{}, fmt.Errorf("read snapshot: %w", err)
	}
	if frame.Error != "" {
		return api.SnapshotFrame{}, fmt.Errorf("server: %s", frame.Error)
	}
	return frame, nil
}

type subscription struct {
	store  *Store
	query  storage.Query
	fn     storage.Listener
	cancel context.CancelFunc
	closed atomic.Bool
}

func (sub *subscription) deliver(frame api.SnapshotFrame) {
	if sub.closed.Load() {
		return
	}
	records := frame.Records
	if records == nil {
		records = []storage.Record{}
	}
	sub.fn(storage.Snapshot{Query: sub.query, Records: records})
}

func (sub *subscription) run(ctx context.Context, conn *ws.Conn) {
	defer func() {
		sub.store.mu.Lock()
		delete(sub.store.subs, sub)
		sub.store.mu.Unlock()
	}()

	for {
		err := sub.pump(ctx, conn)
		conn.CloseNow()
		if sub.closed.Load() || ctx.Err() != nil {
			return
		}
		sub.store.logger.Warn("Subscription dropped", "query", sub.query.String(), "error", err)

		err = sub.store.reconnect.Do(ctx, func(ctx context.Context) error {
			c, first, err := sub.store.dial(ctx, sub.query)
			if err != nil {
				return err
			}
			conn = c
			sub.deliver(first)
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				sub.store.logger.Error("Subscription lost", "query", sub.query.String(), "error", err)
			}
			return
		}
	}
}

func (sub *subscription) pump(ctx context.Context, conn *ws.Conn) error {
	for {
		frame, err := readFrame(ctx, conn)
		if err != nil {
			return err
		}
		sub.deliver(frame)
	}
}

func (sub *subscription) Close() error {
	if sub.closed.Swap(true) {
		return nil
	}
	sub.cancel()
	return nil
}

// mapError converts Connect status codes back into storage errors.
func mapError(op string, err error) error {
	if connect.CodeOf(err) == connect.CodeNotFound {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
