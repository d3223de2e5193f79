package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mmynk/commonbox/internal/calculator"
	"github.com/mmynk/commonbox/internal/engine"
	"github.com/mmynk/commonbox/internal/models"
)

// SignUpOptions holds flags for the signup command.
type SignUpOptions struct {
	*RootOptions
	Name     string
	Email    string
	Password string
}

// NewSignUpCommand creates the signup command.
func NewSignUpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignUpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Long: `Create an account and sign in.

Examples:
  commonbox signup --name Mina --email mina@x.io --password pw1234`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts.RootOptions, func(ctx context.Context, c *client) error {
				if err := c.engine.SignUp(ctx, opts.Name, opts.Email, opts.Password); err != nil {
					return opFailed(err)
				}
				return printCurrentUser(c, "Signed up")
			})
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (required)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// SignInOptions holds flags for the signin command.
type SignInOptions struct {
	*RootOptions
	Email    string
	Password string
}

// NewSignInCommand creates the signin command.
func NewSignInCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignInOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in to an existing account",
		Long: `Sign in to an existing account.

In local mode only the email is checked; any non-empty password is accepted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts.RootOptions, func(ctx context.Context, c *client) error {
				if err := c.engine.SignIn(ctx, opts.Email, opts.Password); err != nil {
					return opFailed(err)
				}
				return printCurrentUser(c, "Signed in")
			})
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password (required)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

// NewSignOutCommand creates the signout command.
func NewSignOutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, c *client) error {
				if err := c.engine.SignOut(ctx); err != nil {
					return opFailed(err)
				}
				return c.out.Success(map[string]bool{"signedIn": false}, func(w io.Writer) {
					fmt.Fprintln(w, "Signed out.")
				})
			})
		},
	}
}

func printCurrentUser(c *client, verb string) error {
	u, _ := c.engine.Snapshot().CurrentUser()
	return c.out.Success(u, func(w io.Writer) {
		fmt.Fprintf(w, "%s as %s <%s>.\n", verb, u.Name, u.Email)
	})
}

// StatusView is the JSON form of the status command.
type StatusView struct {
	Mode          string                   `json:"mode"`
	Phase         engine.Phase             `json:"phase"`
	User          *models.User             `json:"user,omitempty"`
	Theme         models.Theme             `json:"theme"`
	Screen        string                   `json:"screen"`
	Route         models.Route             `json:"route"`
	SelectedBoxID string                   `json:"selectedBoxId,omitempty"`
	Stats         *calculator.ProfileStats `json:"stats,omitempty"`
	Unseen        int                      `json:"unseenNotifications"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the signed-in user, current screen and profile stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, c *client) error {
				v := statusView(c.engine.Snapshot())
				return c.out.Success(v, func(w io.Writer) { writeStatus(w, v) })
			})
		},
	}
}

func statusView(s engine.State) StatusView {
	v := StatusView{
		Mode:          "local",
		Phase:         s.Phase,
		Theme:         s.Theme,
		Screen:        calculator.RouteTitle(s.Route.Name),
		Route:         s.Route,
		SelectedBoxID: s.SelectedBoxID,
	}
	if s.RemoteEnabled {
		v.Mode = "remote"
	}
	if u, ok := s.CurrentUser(); ok {
		v.User = &u
		stats := calculator.CalculateProfileStats(s.Boxes, u.ID)
		v.Stats = &stats
		v.Unseen = calculator.UnseenCount(calculator.VisibleNotifications(s.Notifications, s.Boxes, u.ID), u.ID)
	}
	return v
}

func writeStatus(w io.Writer, v StatusView) {
	fmt.Fprintf(w, "Mode:    %s\n", v.Mode)
	if v.User == nil {
		fmt.Fprintln(w, "User:    not signed in")
	} else {
		fmt.Fprintf(w, "User:    %s <%s>\n", v.User.Name, v.User.Email)
	}
	fmt.Fprintf(w, "Screen:  %s\n", v.Screen)
	fmt.Fprintf(w, "Theme:   %s\n", v.Theme)
	if v.SelectedBoxID != "" {
		fmt.Fprintf(w, "Box:     %s\n", v.SelectedBoxID)
	}
	if v.Stats != nil {
		fmt.Fprintf(w, "Boxes joined: %d, items owned: %d, open concerns: %d\n",
			v.Stats.BoxesJoined, v.Stats.OwnedItems, v.Stats.OpenConcerns)
		fmt.Fprintf(w, "Unseen notifications: %d\n", v.Unseen)
	}
}
