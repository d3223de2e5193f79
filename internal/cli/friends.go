package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mmynk/commonbox/internal/calculator"
	"github.com/mmynk/commonbox/internal/models"
)

// NewFriendCommand creates the friend command group.
func NewFriendCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friend",
		Short: "Manage friends",
	}
	cmd.AddCommand(newFriendAddCommand(rootOpts))
	cmd.AddCommand(newFriendListCommand(rootOpts))
	return cmd
}

func newFriendAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add EMAIL",
		Short: "Add a friend by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, c *client) error {
				if _, err := c.requireSignedIn(); err != nil {
					return err
				}
				if err := c.engine.AddFriendByEmail(ctx, args[0]); err != nil {
					return opFailed(err)
				}
				friend, _ := c.engine.Snapshot().UserByEmail(args[0])
				return c.out.Success(friend, func(w io.Writer) {
					fmt.Fprintf(w, "%s is now your friend.\n", friend.Name)
				})
			})
		},
	}
}

func newFriendListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your friends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, c *client) error {
				s, err := c.requireSignedIn()
				if err != nil {
					return err
				}
				friends := calculator.Friends(s.Users, s.CurrentUserID)
				if friends == nil {
					friends = []models.User{}
				}
				return c.out.Success(friends, func(w io.Writer) {
					if len(friends) == 0 {
						fmt.Fprintln(w, "No friends yet. Add one with: commonbox friend add EMAIL")
						return
					}
					for _, f := range friends {
						fmt.Fprintf(w, "%s  %s <%s>\n", f.ID, f.Name, f.Email)
					}
				})
			})
		},
	}
}
