// Package cli is the command-line surface of the CommonBox client. Every
// invocation starts an engine from the cached state, runs one operation and
// flushes the cache again.
package cli

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags and the process environment for all
// commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Getenv and Now default to the process environment and clock.
	Getenv func(string) string
	Now    func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the commonbox CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Getenv: os.Getenv, Now: time.Now})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cmd := &cobra.Command{
		Use:   "commonbox",
		Short: "CommonBox - shared spaces, shared stuff",
		Long: `Track who owns what in shared spaces like a fridge or a pantry.

Without COMMONBOX_REMOTE_URL the client runs in local mode on a cached demo
household. With it, changes sync through a CommonBox server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log engine activity to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSignUpCommand(opts))
	cmd.AddCommand(NewSignInCommand(opts))
	cmd.AddCommand(NewSignOutCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewFriendCommand(opts))
	cmd.AddCommand(NewBoxCommand(opts))
	cmd.AddCommand(NewItemCommand(opts))
	cmd.AddCommand(NewChatCommand(opts))
	cmd.AddCommand(NewNotificationsCommand(opts))
	cmd.AddCommand(NewThemeCommand(opts))
	cmd.AddCommand(NewNavigateCommand(opts))

	return cmd
}
