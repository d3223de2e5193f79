package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func envFunc(env map[string]string) func(string) string {
	return func(k string) string { return env[k] }
}

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClientFromEnv(envFunc(nil))
	if err != nil {
		t.Fatalf("LoadClientFromEnv: %v", err)
	}
	if cfg.Remote() {
		t.Errorf("Remote() = true, want local mode")
	}
	if cfg.Namespace != DefaultNamespace {
		t.Errorf("Namespace = %q, want %q", cfg.Namespace, DefaultNamespace)
	}
	if cfg.Retry.MaxRetries != 2 || cfg.Retry.BaseDelay != 300*time.Millisecond {
		t.Errorf("Retry = %+v, want 2 retries at 300ms", cfg.Retry)
	}
	if cfg.ToastTTL != 3200*time.Millisecond {
		t.Errorf("ToastTTL = %v", cfg.ToastTTL)
	}
	if !cfg.SeedDemo {
		t.Errorf("SeedDemo = false, want true")
	}
	if cfg.CachePath == "" {
		t.Errorf("CachePath is empty")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadClientOverrides(t *testing.T) {
	cfg, err := LoadClientFromEnv(envFunc(map[string]string{
		"COMMONBOX_REMOTE_URL": "https://box.example.com/",
		"COMMONBOX_CACHE_PATH": "/tmp/cache.db",
		"COMMONBOX_NAMESPACE":  "test-ns",
		"COMMONBOX_RETRY_MAX":  "0",
		"COMMONBOX_RETRY_BASE": "50ms",
		"COMMONBOX_TOAST_TTL":  "1s",
		"COMMONBOX_SEED_DEMO":  "false",
		"LOG_LEVEL":            "debug",
	}))
	if err != nil {
		t.Fatalf("LoadClientFromEnv: %v", err)
	}
	if !cfg.Remote() || cfg.RemoteURL != "https://box.example.com" {
		t.Errorf("RemoteURL = %q", cfg.RemoteURL)
	}
	if cfg.CachePath != "/tmp/cache.db" || cfg.Namespace != "test-ns" {
		t.Errorf("cache = %q/%q", cfg.CachePath, cfg.Namespace)
	}
	if cfg.Retry.MaxRetries != 0 || cfg.Retry.BaseDelay != 50*time.Millisecond {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.ToastTTL != time.Second || cfg.SeedDemo {
		t.Errorf("ToastTTL = %v, SeedDemo = %v", cfg.ToastTTL, cfg.SeedDemo)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoadClientErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"relative url", map[string]string{"COMMONBOX_REMOTE_URL": "box.example.com"}, "COMMONBOX_REMOTE_URL"},
		{"bad scheme", map[string]string{"COMMONBOX_REMOTE_URL": "ftp://box.example.com"}, "COMMONBOX_REMOTE_URL"},
		{"negative retries", map[string]string{"COMMONBOX_RETRY_MAX": "-1"}, "COMMONBOX_RETRY_MAX"},
		{"bad retries", map[string]string{"COMMONBOX_RETRY_MAX": "two"}, "COMMONBOX_RETRY_MAX"},
		{"zero base", map[string]string{"COMMONBOX_RETRY_BASE": "0s"}, "COMMONBOX_RETRY_BASE"},
		{"bad ttl", map[string]string{"COMMONBOX_TOAST_TTL": "soon"}, "COMMONBOX_TOAST_TTL"},
		{"bad seed", map[string]string{"COMMONBOX_SEED_DEMO": "maybe"}, "COMMONBOX_SEED_DEMO"},
		{"bad level", map[string]string{"LOG_LEVEL": "loud"}, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadClientFromEnv(envFunc(tt.env))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), tt.want+":") {
				t.Errorf("error = %q, want prefix %q", err, tt.want)
			}
		})
	}
}

func TestLoadServer(t *testing.T) {
	cfg, err := LoadServerFromEnv(envFunc(nil))
	if err != nil {
		t.Fatalf("LoadServerFromEnv: %v", err)
	}
	if cfg.Addr != DefaultAddr || cfg.Backend != BackendSQLite || cfg.TokenTTL != DefaultTokenTTL {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.InsecureSecret() {
		t.Errorf("InsecureSecret() = false with no secret configured")
	}

	cfg, err = LoadServerFromEnv(envFunc(map[string]string{
		"COMMONBOX_ADDR":       "127.0.0.1:9000",
		"COMMONBOX_BACKEND":    "Postgres",
		"COMMONBOX_DB_DSN":     "postgres://localhost/commonbox",
		"COMMONBOX_JWT_SECRET": "s3cret",
		"COMMONBOX_TOKEN_TTL":  "2h",
	}))
	if err != nil {
		t.Fatalf("LoadServerFromEnv: %v", err)
	}
	if cfg.Backend != BackendPostgres || cfg.TokenTTL != 2*time.Hour || cfg.InsecureSecret() {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestLoadServerErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown backend", map[string]string{"COMMONBOX_BACKEND": "mysql"}, "COMMONBOX_BACKEND"},
		{"postgres without dsn", map[string]string{"COMMONBOX_BACKEND": "postgres"}, "COMMONBOX_DB_DSN"},
		{"negative ttl", map[string]string{"COMMONBOX_TOKEN_TTL": "-1h"}, "COMMONBOX_TOKEN_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadServerFromEnv(envFunc(tt.env))
			if err == nil || !strings.HasPrefix(err.Error(), tt.want+":") {
				t.Errorf("error = %v, want prefix %q", err, tt.want)
			}
		})
	}
}
