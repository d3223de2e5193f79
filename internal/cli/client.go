package cli

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/mmynk/commonbox/internal/auth"
	"github.com/mmynk/commonbox/internal/config"
	"github.com/mmynk/commonbox/internal/engine"
	"github.com/mmynk/commonbox/internal/persist"
	"github.com/mmynk/commonbox/internal/seed"
	"github.com/mmynk/commonbox/internal/storage/remote"
	"github.com/mmynk/commonbox/internal/toast"
	"github.com/mmynk/commonbox/pkg/logging"
)

// client is the engine of one invocation and the resources behind it.
type client struct {
	engine  *engine.Engine
	out     *OutputFormatter
	opts    *RootOptions
	closers []func() error
}

// openClient loads the configuration, opens the cache and starts an engine.
// Remote mode also resumes the cached session.
func openClient(ctx context.Context, cmd *cobra.Command, opts *RootOptions) (*client, error) {
	cfg, err := config.LoadClientFromEnv(opts.Getenv)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level := slog.LevelWarn
	if opts.Getenv("LOG_LEVEL") != "" {
		level = cfg.LogLevel
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(cmd.ErrOrStderr(), level)

	cache, err := persist.OpenSQLite(cfg.CachePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	c := &client{
		out:     &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
		opts:    opts,
		closers: []func() error{cache.Close},
	}

	ecfg := engine.Config{
		Persist:   cache,
		Namespace: cfg.Namespace,
		Retry:     cfg.Retry,
		ToastTTL:  cfg.ToastTTL,
		Logger:    logger,
		Now:       func() time.Time { return opts.Now().UTC() },
	}
	if cfg.Remote() {
		authClient := auth.NewRemoteClient(http.DefaultClient, cfg.RemoteURL)
		store := remote.New(cfg.RemoteURL, authClient.Token,
			remote.WithLogger(logger),
			remote.WithReconnect(cfg.Retry))
		ecfg.Store = store
		ecfg.Auth = authClient
		c.closers = append([]func() error{store.Close}, c.closers...)
	} else if cfg.SeedDemo {
		data, err := seed.Demo(opts.Now().UTC())
		if err != nil {
			c.close()
			return nil, WrapExitError(ExitCommandError, "failed to load demo data", err)
		}
		ecfg.Seed = &data
	}

	e, err := engine.New(ecfg)
	if err != nil {
		c.close()
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	if err := e.Start(ctx); err != nil {
		c.close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	c.engine = e
	return c, nil
}

// close stops the engine, which flushes the cache, then releases the store
// and the cache.
func (c *client) close() error {
	var err error
	if c.engine != nil {
		err = multierr.Append(err, c.engine.Close())
	}
	for _, fn := range c.closers {
		err = multierr.Append(err, fn())
	}
	return err
}

// withClient runs fn against a started client and closes it afterwards.
// Operation errors are also written to JSON output.
func withClient(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, c *client) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := openClient(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.close(); cerr != nil && err == nil {
			err = WrapExitError(ExitCommandError, "failed to save state", cerr)
		}
	}()

	if err := fn(ctx, c); err != nil {
		_ = c.out.Error(err)
		return err
	}
	return nil
}

// requireSignedIn fails unless a user is signed in.
func (c *client) requireSignedIn() (engine.State, error) {
	s := c.engine.Snapshot()
	if !s.SignedIn() {
		return s, NewExitError(ExitFailure, "not signed in: run commonbox signin or commonbox signup first")
	}
	return s, nil
}

// resolveUser accepts a user ID or an email address.
func resolveUser(s engine.State, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if strings.Contains(ref, "@") {
		u, ok := s.UserByEmail(ref)
		if !ok {
			return "", NewExitError(ExitFailure, "unknown user "+ref)
		}
		return u.ID, nil
	}
	if _, ok := s.User(ref); !ok {
		return "", NewExitError(ExitFailure, "unknown user "+ref)
	}
	return ref, nil
}

// resolveBox returns boxID, or the selected box when boxID is empty.
func resolveBox(s engine.State, boxID string) (string, error) {
	if boxID == "" {
		boxID = s.SelectedBoxID
	}
	if boxID == "" {
		return "", NewExitError(ExitFailure, "no box selected: pass --box or run commonbox box select")
	}
	if _, ok := s.Box(boxID); !ok {
		return "", NewExitError(ExitFailure, "box not found: "+boxID)
	}
	return boxID, nil
}

// toastFailure turns an error toast left by a fire-and-forget operation
// into an exit error.
func (c *client) toastFailure() error {
	if t := c.engine.Snapshot().Toast; t != nil && t.Tone == toast.ToneError {
		return NewExitError(ExitFailure, t.Message)
	}
	return nil
}
