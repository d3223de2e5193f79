package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/commonbox/internal/auth"
	"github.com/mmynk/commonbox/internal/middleware"
	"github.com/mmynk/commonbox/internal/retry"
	"github.com/mmynk/commonbox/internal/storage"
	"github.com/mmynk/commonbox/internal/storage/memstore"
	"github.com/mmynk/commonbox/internal/storage/remote"
	"github.com/mmynk/commonbox/internal/websocket"
	"github.com/mmynk/commonbox/pkg/api"
)

type testServer struct {
	url     string
	live    *storage.Live
	metrics *middleware.RPCMetrics
}

// setupTestServer starts a full server over an in-memory backend.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	live := storage.NewLive(memstore.New(), nil)
	authenticator := auth.NewPasswordAuthenticator(auth.NewDocumentAccounts(live)).WithCost(bcrypt.MinCost)
	metrics := middleware.NewRPCMetrics(prometheus.NewRegistry())

	mux := http.NewServeMux()
	Register(mux, Deps{
		Store:         live,
		Authenticator: authenticator,
		JWT:           auth.NewJWTManager("test-secret", time.Hour),
		Hub:           websocket.NewHub(nil),
		Metrics:       metrics,
	})

	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		live.Close()
	})

	return &testServer{url: server.URL, live: live, metrics: metrics}
}

func signUp(t *testing.T, srv *testServer, email string) (*auth.RemoteClient, *remote.Store) {
	t.Helper()

	client := auth.NewRemoteClient(http.DefaultClient, srv.url)
	if _, err := client.SignUp(context.Background(), email, "secret1", "Tester"); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	store := remote.New(srv.url, client.Token, remote.WithReconnect(retry.Policy{MaxRetries: 1, BaseDelay: 10 * time.Millisecond}))
	t.Cleanup(func() { store.Close() })
	return client, store
}

func TestAuthService(t *testing.T) {
	srv := setupTestServer(t)
	ctx := context.Background()

	client := auth.NewRemoteClient(http.DefaultClient, srv.url)

	var identities []*auth.Identity
	client.OnIdentityChange(func(ident *auth.Identity) { identities = append(identities, ident) })

	ident, err := client.SignUp(ctx, "Mina@X.io", "pw1234", "Mina")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if ident.Email != "mina@x.io" || ident.DisplayName != "Mina" || ident.UserID == "" {
		t.Errorf("unexpected identity: %+v", ident)
	}
	if client.Token() == "" {
		t.Error("expected a session token after sign-up")
	}
	if len(identities) != 2 || identities[1] == nil {
		t.Errorf("listener saw %v, want [nil, identity]", identities)
	}

	t.Run("duplicate email", func(t *testing.T) {
		other := auth.NewRemoteClient(http.DefaultClient, srv.url)
		_, err := other.SignUp(ctx, "mina@x.io", "pw1234", "")
		if !errors.Is(err, auth.ErrEmailExists) {
			t.Errorf("SignUp() error = %v, want ErrEmailExists", err)
		}
	})

	t.Run("weak password", func(t *testing.T) {
		other := auth.NewRemoteClient(http.DefaultClient, srv.url)
		_, err := other.SignUp(ctx, "ravi@x.io", "123", "")
		if !errors.Is(err, auth.ErrWeakPassword) {
			t.Errorf("SignUp() error = %v, want ErrWeakPassword", err)
		}
	})

	t.Run("sign in", func(t *testing.T) {
		other := auth.NewRemoteClient(http.DefaultClient, srv.url)
		got, err := other.SignIn(ctx, "MINA@x.io", "pw1234")
		if err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if got.UserID != ident.UserID {
			t.Errorf("SignIn UserID = %s, want %s", got.UserID, ident.UserID)
		}

		_, err = other.SignIn(ctx, "mina@x.io", "wrong!")
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Errorf("SignIn() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("resume", func(t *testing.T) {
		other := auth.NewRemoteClient(http.DefaultClient, srv.url)
		got, err := other.Resume(ctx, client.Token())
		if err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		if got.UserID != ident.UserID || other.Token() != client.Token() {
			t.Errorf("Resume returned %+v", got)
		}

		_, err = other.Resume(ctx, "garbage")
		if !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("Resume() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("sign out", func(t *testing.T) {
		if err := client.SignOut(ctx); err != nil {
			t.Fatalf("SignOut failed: %v", err)
		}
		if client.Token() != "" {
			t.Error("token kept after sign-out")
		}
		if last := identities[len(identities)-1]; last != nil {
			t.Errorf("last identity = %+v, want nil", last)
		}
	})
}

func TestDocumentService(t *testing.T) {
	srv := setupTestServer(t)
	ctx := context.Background()
	_, store := signUp(t, srv, "ava@svern.app")

	t.Run("requires authentication", func(t *testing.T) {
		anon := remote.New(srv.url, nil)
		_, err := anon.Get(ctx, "users", "u1")
		if connect.CodeOf(err) != connect.CodeUnauthenticated {
			t.Errorf("Get() error = %v, want unauthenticated", err)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "users", "nobody")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("set get update", func(t *testing.T) {
		err := store.Set(ctx, "users", "u1", storage.Document{
			"id":        "u1",
			"name":      "Ava",
			"email":     "ava@svern.app",
			"friendIds": []any{},
		})
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		err = store.Commit(ctx, []storage.WriteOp{
			storage.UpdateOp("users", "u1", storage.Document{"friendIds": storage.Union("u2")}),
			storage.SetOp("notifications", "n1", storage.Document{"message": "Ava added Ravi as a friend."}),
		})
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		got, err := store.Get(ctx, "users", "u1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		friends, _ := got["friendIds"].([]any)
		if len(friends) != 1 || friends[0] != "u2" {
			t.Errorf("friendIds = %#v, want [u2]", got["friendIds"])
		}
	})

	t.Run("commit on missing document is atomic", func(t *testing.T) {
		err := store.Commit(ctx, []storage.WriteOp{
			storage.SetOp("notifications", "n2", storage.Document{"message": "x"}),
			storage.UpdateOp("users", "ghost", storage.Document{"name": "x"}),
		})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("Commit() error = %v, want ErrNotFound", err)
		}
		if _, err := store.Get(ctx, "notifications", "n2"); !errors.Is(err, storage.ErrNotFound) {
			t.Error("partial batch was stored")
		}
	})

	t.Run("query", func(t *testing.T) {
		records, err := store.Query(ctx, storage.Collection("users").Where("friendIds", storage.OpArrayContains, "u2"))
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(records) != 1 || records[0].ID != "u1" {
			t.Errorf("Query returned %v", records)
		}
	})

	t.Run("private collections are rejected", func(t *testing.T) {
		_, err := store.Query(ctx, storage.Collection(auth.AccountsCollection))
		if connect.CodeOf(err) != connect.CodePermissionDenied {
			t.Errorf("Query() error = %v, want permission denied", err)
		}
	})

	if got := testutil.ToFloat64(srv.metrics.Requests().WithLabelValues(api.GetProcedure, "not_found")); got < 1 {
		t.Errorf("not_found Get requests = %v, want at least 1", got)
	}
}

func TestSubscribe(t *testing.T) {
	srv := setupTestServer(t)
	ctx := context.Background()
	_, store := signUp(t, srv, "ava@svern.app")

	snaps := make(chan storage.Snapshot, 16)
	q := storage.Collection("messages").Where("boxId", storage.OpEqual, "b1").OrderByDesc("createdAt")
	sub, err := store.Subscribe(ctx, q, func(s storage.Snapshot) { snaps <- s })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	first := waitSnapshot(t, snaps)
	if len(first.Records) != 0 {
		t.Fatalf("initial snapshot = %v, want empty", first.Records)
	}

	// A write through the server's store reaches the remote subscriber.
	err = srv.live.Set(ctx, "messages", "m1", storage.Document{"boxId": "b1", "text": "hi", "createdAt": "2026-01-01T10:00:00Z"})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got := waitSnapshot(t, snaps)
	if len(got.Records) != 1 || got.Records[0].Data["text"] != "hi" {
		t.Fatalf("snapshot = %v, want [m1]", got.Records)
	}

	// Messages for other boxes do not match but still trigger a refresh.
	if err := store.Set(ctx, "messages", "m2", storage.Document{"boxId": "b2", "createdAt": "2026-01-01T11:00:00Z"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got = waitSnapshot(t, snaps)
	if len(got.Records) != 1 || got.Records[0].ID != "m1" {
		t.Fatalf("snapshot = %v, want [m1]", got.Records)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.live.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := srv.live.Subscribers(); n != 0 {
		t.Errorf("server still has %d subscribers after close", n)
	}
}

func TestSubscribeRequiresToken(t *testing.T) {
	srv := setupTestServer(t)

	anon := remote.New(srv.url, nil)
	_, err := anon.Subscribe(context.Background(), storage.Collection("users"), func(storage.Snapshot) {})
	if err == nil {
		t.Fatal("expected anonymous subscription to fail")
	}
}

func waitSnapshot(t *testing.T, ch <-chan storage.Snapshot) storage.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
		return storage.Snapshot{}
	}
}
