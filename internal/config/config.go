// Package config loads client and server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mmynk/commonbox/internal/retry"
	"github.com/mmynk/commonbox/pkg/logging"
)

const (
	DefaultNamespace = "commonbox-cache-v1"
	DefaultToastTTL  = 3200 * time.Millisecond
	DefaultAddr      = ":8080"
	DefaultTokenTTL  = 30 * 24 * time.Hour

	// devSecret is accepted only so that a local server starts without setup.
	devSecret = "commonbox-dev-secret-change-me"
)

// Backend names accepted by COMMONBOX_BACKEND.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Client configures the sync engine and CLI.
type Client struct {
	// RemoteURL is the document server. Empty means local mode.
	RemoteURL string
	CachePath string
	Namespace string
	Retry     retry.Policy
	ToastTTL  time.Duration
	SeedDemo  bool
	LogLevel  slog.Level
}

// Remote reports whether a document server is configured.
func (c Client) Remote() bool { return c.RemoteURL != "" }

// Server configures the document server.
type Server struct {
	Addr      string
	Backend   string
	DBPath    string
	DBDSN     string
	JWTSecret string
	TokenTTL  time.Duration
	LogLevel  slog.Level
}

// LoadClient reads the client configuration from the process environment.
func LoadClient() (Client, error) {
	return LoadClientFromEnv(os.Getenv)
}

// LoadClientFromEnv reads the client configuration through getenv.
func LoadClientFromEnv(getenv func(string) string) (Client, error) {
	cfg := Client{
		RemoteURL: strings.TrimRight(strings.TrimSpace(getenv("COMMONBOX_REMOTE_URL")), "/"),
		CachePath: getenv("COMMONBOX_CACHE_PATH"),
		Namespace: getenv("COMMONBOX_NAMESPACE"),
		Retry:     retry.Default(),
		ToastTTL:  DefaultToastTTL,
		SeedDemo:  true,
	}

	if cfg.RemoteURL != "" {
		if err := validateURL(cfg.RemoteURL); err != nil {
			return Client{}, fmt.Errorf("COMMONBOX_REMOTE_URL: %w", err)
		}
	}
	if cfg.CachePath == "" {
		cfg.CachePath = defaultCachePath()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}

	if raw := getenv("COMMONBOX_RETRY_MAX"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Client{}, fmt.Errorf("COMMONBOX_RETRY_MAX: %w", err)
		}
		if n < 0 {
			return Client{}, errors.New("COMMONBOX_RETRY_MAX: must be >= 0")
		}
		cfg.Retry.MaxRetries = n
	}
	if raw := getenv("COMMONBOX_RETRY_BASE"); raw != "" {
		d, err := parsePositiveDuration(raw)
		if err != nil {
			return Client{}, fmt.Errorf("COMMONBOX_RETRY_BASE: %w", err)
		}
		cfg.Retry.BaseDelay = d
	}
	if raw := getenv("COMMONBOX_TOAST_TTL"); raw != "" {
		d, err := parsePositiveDuration(raw)
		if err != nil {
			return Client{}, fmt.Errorf("COMMONBOX_TOAST_TTL: %w", err)
		}
		cfg.ToastTTL = d
	}
	if raw := getenv("COMMONBOX_SEED_DEMO"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Client{}, fmt.Errorf("COMMONBOX_SEED_DEMO: %w", err)
		}
		cfg.SeedDemo = b
	}

	level, err := logging.ParseLevel(getenv("LOG_LEVEL"))
	if err != nil {
		return Client{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	return cfg, nil
}

// LoadServer reads the server configuration from the process environment.
func LoadServer() (Server, error) {
	return LoadServerFromEnv(os.Getenv)
}

// LoadServerFromEnv reads the server configuration through getenv.
func LoadServerFromEnv(getenv func(string) string) (Server, error) {
	cfg := Server{
		Addr:      getenv("COMMONBOX_ADDR"),
		Backend:   strings.ToLower(getenv("COMMONBOX_BACKEND")),
		DBPath:    getenv("COMMONBOX_DB_PATH"),
		DBDSN:     getenv("COMMONBOX_DB_DSN"),
		JWTSecret: getenv("COMMONBOX_JWT_SECRET"),
		TokenTTL:  DefaultTokenTTL,
	}

	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendSQLite
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./data/commonbox.db"
	}

	switch cfg.Backend {
	case BackendSQLite, BackendMemory:
	case BackendPostgres:
		if cfg.DBDSN == "" {
			return Server{}, errors.New("COMMONBOX_DB_DSN: required for the postgres backend")
		}
	default:
		return Server{}, errors.New("COMMONBOX_BACKEND: must be one of sqlite, postgres, memory")
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = devSecret
	}

	if raw := getenv("COMMONBOX_TOKEN_TTL"); raw != "" {
		d, err := parsePositiveDuration(raw)
		if err != nil {
			return Server{}, fmt.Errorf("COMMONBOX_TOKEN_TTL: %w", err)
		}
		cfg.TokenTTL = d
	}

	level, err := logging.ParseLevel(getenv("LOG_LEVEL"))
	if err != nil {
		return Server{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	return cfg, nil
}

// InsecureSecret reports whether the built-in development secret is in use.
func (s Server) InsecureSecret() bool { return s.JWTSecret == devSecret }

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return errors.New("must be an absolute URL")
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return errors.New("scheme must be http or https")
	}
	return nil
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be > 0")
	}
	return d, nil
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", "commonbox-cache.db")
	}
	return filepath.Join(dir, "commonbox", "cache.db")
}
