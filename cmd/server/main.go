// Command server runs the CommonBox document server: the realtime document
// store and the auth service that remote clients sync against.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/commonbox/internal/auth"
	"github.com/mmynk/commonbox/internal/config"
	"github.com/mmynk/commonbox/internal/middleware"
	"github.com/mmynk/commonbox/internal/service"
	"github.com/mmynk/commonbox/internal/storage"
	"github.com/mmynk/commonbox/internal/storage/memstore"
	"github.com/mmynk/commonbox/internal/storage/postgres"
	"github.com/mmynk/commonbox/internal/storage/sqlite"
	"github.com/mmynk/commonbox/internal/websocket"
	"github.com/mmynk/commonbox/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		logging.Setup().Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.SetupWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, logger *slog.Logger) error {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	store := storage.NewLive(backend, logger)
	defer store.Close()
	logger.Info("Storage initialized", "backend", cfg.Backend)

	if cfg.InsecureSecret() {
		logger.Warn("COMMONBOX_JWT_SECRET is not set, using the development secret")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := websocket.NewHub(logger)
	mux := http.NewServeMux()
	service.Register(mux, service.Deps{
		Store:         store,
		Authenticator: auth.NewPasswordAuthenticator(auth.NewDocumentAccounts(store)),
		JWT:           auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL),
		Hub:           hub,
		Metrics:       middleware.NewRPCMetrics(reg),
		Logger:        logger,
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	handler := h2c.NewHandler(loggingMiddleware(logger, corsMiddleware(mux)), &http2.Server{})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", "address", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", "subscribers", hub.ClientCount())
		hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openBackend opens the configured document backend.
func openBackend(ctx context.Context, cfg config.Server) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pg, err := postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case config.BackendMemory:
		return memstore.New(), nil
	}
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// loggingMiddleware logs plain HTTP requests. Connect RPCs are logged by
// their interceptor.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
