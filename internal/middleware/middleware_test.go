package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/commonbox/internal/auth"
)

func newRequest(t *testing.T, authorization string) connect.AnyRequest {
	t.Helper()
	msg, err := structpb.NewStruct(nil)
	if err != nil {
		t.Fatalf("NewStruct failed: %v", err)
	}
	req := connect.NewRequest(msg)
	if authorization != "" {
		req.Header().Set("Authorization", authorization)
	}
	return req
}

func respondWith(err error) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if err != nil {
			return nil, err
		}
		msg, _ := structpb.NewStruct(map[string]any{"user": GetUserID(ctx)})
		return connect.NewResponse(msg), nil
	}
}

func TestRequireAuth(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	token, err := jwtManager.Generate(&auth.Account{ID: "u1", Email: "ava@svern.app", DisplayName: "Ava"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	interceptor := RequireAuth(jwtManager)

	t.Run("valid token", func(t *testing.T) {
		var seen context.Context
		next := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			seen = ctx
			return nil, nil
		}
		if _, err := interceptor(next)(context.Background(), newRequest(t, "Bearer "+token)); err != nil {
			t.Fatalf("call failed: %v", err)
		}
		if GetUserID(seen) != "u1" || GetEmail(seen) != "ava@svern.app" || GetDisplayName(seen) != "Ava" {
			t.Errorf("context identity = %q %q %q", GetUserID(seen), GetEmail(seen), GetDisplayName(seen))
		}
	})

	for _, header := range []string{"", "Bearer garbage", "Basic " + token} {
		t.Run("rejects "+header, func(t *testing.T) {
			_, err := interceptor(respondWith(nil))(context.Background(), newRequest(t, header))
			if connect.CodeOf(err) != connect.CodeUnauthenticated {
				t.Errorf("error = %v, want unauthenticated", err)
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	interceptor := OptionalAuth(jwtManager)

	var seen context.Context
	next := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		seen = ctx
		return nil, nil
	}
	if _, err := interceptor(next)(context.Background(), newRequest(t, "Bearer garbage")); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if GetUserID(seen) != "" {
		t.Errorf("invalid token produced user %q", GetUserID(seen))
	}
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	interceptor := LoggingInterceptor(logger)
	ctx := context.Background()

	_, _ = interceptor(respondWith(nil))(ctx, newRequest(t, ""))
	_, _ = interceptor(respondWith(connect.NewError(connect.CodeNotFound, errors.New("missing"))))(ctx, newRequest(t, ""))
	_, _ = interceptor(respondWith(connect.NewError(connect.CodeInternal, errors.New("disk full"))))(ctx, newRequest(t, ""))

	out := buf.String()
	if !strings.Contains(out, "RPC ok") {
		t.Errorf("missing ok line in %q", out)
	}
	if strings.Contains(out, "missing") {
		t.Errorf("not-found logged above debug: %q", out)
	}
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "disk full") {
		t.Errorf("internal error not logged at error: %q", out)
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		code connect.Code
		want slog.Level
	}{
		{connect.CodeNotFound, slog.LevelDebug},
		{connect.CodeAlreadyExists, slog.LevelInfo},
		{connect.CodeUnauthenticated, slog.LevelInfo},
		{connect.CodeUnavailable, slog.LevelWarn},
		{connect.CodeInternal, slog.LevelError},
	}
	for _, tt := range tests {
		if got := levelFor(tt.code); got != tt.want {
			t.Errorf("levelFor(%v) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestRPCMetrics(t *testing.T) {
	m := NewRPCMetrics(prometheus.NewRegistry())
	interceptor := m.Interceptor()
	ctx := context.Background()

	_, _ = interceptor(respondWith(nil))(ctx, newRequest(t, ""))
	_, _ = interceptor(respondWith(nil))(ctx, newRequest(t, ""))
	_, _ = interceptor(respondWith(connect.NewError(connect.CodeNotFound, errors.New("missing"))))(ctx, newRequest(t, ""))

	// Requests built outside a handler have an empty procedure.
	if got := testutil.ToFloat64(m.Requests().WithLabelValues("", "ok")); got != 2 {
		t.Errorf("ok requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Requests().WithLabelValues("", "not_found")); got != 1 {
		t.Errorf("not_found requests = %v, want 1", got)
	}
}
