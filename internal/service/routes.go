package service

import (
	"log/slog"
	"net/http"
	"slices"

	"connectrpc.com/connect"

	"github.com/mmynk/commonbox/internal/auth"
	"github.com/mmynk/commonbox/internal/middleware"
	"github.com/mmynk/commonbox/internal/storage"
	"github.com/mmynk/commonbox/internal/websocket"
	"github.com/mmynk/commonbox/pkg/api"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Store         storage.Store
	Authenticator auth.Authenticator
	JWT           *auth.JWTManager
	Hub           *websocket.Hub
	Metrics       *middleware.RPCMetrics // optional
	Logger        *slog.Logger
}

// Register mounts the document service, the auth service and the
// subscription socket on mux.
func Register(mux *http.ServeMux, d Deps) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	common := []connect.Interceptor{middleware.LoggingInterceptor(logger)}
	if d.Metrics != nil {
		common = append(common, d.Metrics.Interceptor())
	}

	docs := NewDocumentService(d.Store, logger)
	docs.Mount(mux, connect.WithInterceptors(slices.Concat(common, []connect.Interceptor{middleware.RequireAuth(d.JWT)})...))

	authSvc := NewAuthService(d.Authenticator, d.JWT, logger)
	authSvc.Mount(mux, connect.WithInterceptors(slices.Concat(common, []connect.Interceptor{middleware.OptionalAuth(d.JWT)})...))

	mux.Handle(api.SubscribePath, websocket.HandleSubscribe(d.Hub, d.Store, d.JWT))
}
