package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mmynk/commonbox/internal/calculator"
	"github.com/mmynk/commonbox/internal/models"
)

// NewThemeCommand creates the theme command group.
func NewThemeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "theme",
		Short: "Change the colour scheme",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "toggle",
		Short: "Switch between light and dark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, c *client) error {
				c.engine.ToggleTheme()
				theme := c.engine.Snapshot().Theme
				return c.out.Success(map[string]models.Theme{"theme": theme}, func(w io.Writer) {
					fmt.Fprintf(w, "Theme is now %s.\n", theme)
				})
			})
		},
	})
	return cmd
}

// NavigateOptions holds flags for the navigate command.
type NavigateOptions struct {
	*RootOptions
	Box string
}

// NewNavigateCommand creates the navigate command.
func NewNavigateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NavigateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:       "navigate SCREEN",
		Short:     "Move to a screen: home, profile, friends, notifications or chat",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"home", "profile", "friends", "notifications", "chat"},
		RunE: func(cmd *cobra.Command, args []string) error {
			route, err := models.ParseRoute(args[0], opts.Box)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid screen", err)
			}
			return withClient(cmd, opts.RootOptions, func(ctx context.Context, c *client) error {
				if err := c.engine.Navigate(route); err != nil {
					return opFailed(err)
				}
				return c.out.Success(route, func(w io.Writer) {
					fmt.Fprintf(w, "Now on %s.\n", calculator.RouteTitle(route.Name))
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Box, "box", "", "box the screen refers to")
	return cmd
}
