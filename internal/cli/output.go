package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mmynk/commonbox/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation was rejected (validation, not found, rolled back)
	ExitCommandError = 2 // Command error (bad flags, unreadable config or cache)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string `json:"status"` // "ok" or "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Success writes data. In text mode text renders it.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.writeJSON(Response{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

// Error writes err in the configured format. Text errors are left to the
// caller so they reach stderr.
func (f *OutputFormatter) Error(err error) error {
	if f.Format != "json" {
		return nil
	}
	return f.writeJSON(Response{Status: "error", Error: err.Error()})
}

func (f *OutputFormatter) writeJSON(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// opFailed maps an engine error to an exit error.
func opFailed(err error) error {
	var (
		verr *engine.ValidationError
		rerr *engine.RemoteCommitError
		aerr *engine.AuthError
	)
	switch {
	case errors.As(err, &rerr):
		return WrapExitError(ExitFailure, "change was not saved", err)
	case errors.As(err, &aerr):
		return WrapExitError(ExitFailure, "authentication failed", err)
	case errors.As(err, &verr), errors.Is(err, engine.ErrNotFound),
		errors.Is(err, engine.ErrAlreadyFriends), errors.Is(err, engine.ErrSelfReference),
		errors.Is(err, engine.ErrEmailTaken):
		return NewExitError(ExitFailure, err.Error())
	}
	return WrapExitError(ExitCommandError, "command failed", err)
}
