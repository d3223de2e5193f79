package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mmynk/commonbox/internal/calculator"
)

// NotificationsOptions holds flags for the notifications commands.
type NotificationsOptions struct {
	*RootOptions
	All bool
}

// NewNotificationsCommand creates the notifications command group.
func NewNotificationsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "Read and acknowledge notifications",
	}
	cmd.AddCommand(newNotificationsListCommand(rootOpts))
	cmd.AddCommand(newNotificationsSeenCommand(rootOpts))
	return cmd
}

func newNotificationsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, c *client) error {
				s, err := c.requireSignedIn()
				if err != nil {
					return err
				}
				feed := calculator.VisibleNotifications(s.Notifications, s.Boxes, s.CurrentUserID)
				now := c.opts.Now()
				return c.out.Success(feed, func(w io.Writer) {
					if len(feed) == 0 {
						fmt.Fprintln(w, "No notifications.")
						return
					}
					for _, n := range feed {
						marker := " "
						if !n.SeenByUser(s.CurrentUserID) {
							marker = "*"
						}
						fmt.Fprintf(w, "%s %s  %s  (%s)\n", marker, n.ID, n.Message,
							humanize.RelTime(n.CreatedAt, now, "ago", "from now"))
					}
				})
			})
		},
	}
}

func newNotificationsSeenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NotificationsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seen [NOTIFICATION_ID...]",
		Short: "Mark notifications as seen",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !opts.All {
				return NewExitError(ExitCommandError, "pass notification IDs or --all")
			}
			return withClient(cmd, opts.RootOptions, func(ctx context.Context, c *client) error {
				s, err := c.requireSignedIn()
				if err != nil {
					return err
				}
				ids := args
				if opts.All {
					ids = nil
					for _, n := range calculator.VisibleNotifications(s.Notifications, s.Boxes, s.CurrentUserID) {
						ids = append(ids, n.ID)
					}
				}
				for _, id := range ids {
					if _, ok := s.Notification(id); !ok {
						return NewExitError(ExitFailure, "notification not found: "+id)
					}
				}

				for _, id := range ids {
					c.engine.MarkNotificationSeen(ctx, id)
				}
				if err := c.toastFailure(); err != nil {
					return err
				}
				after := c.engine.Snapshot()
				unseen := calculator.UnseenCount(
					calculator.VisibleNotifications(after.Notifications, after.Boxes, after.CurrentUserID),
					after.CurrentUserID)
				return c.out.Success(map[string]int{"unseen": unseen}, func(w io.Writer) {
					fmt.Fprintf(w, "Marked seen. %d unseen left.\n", unseen)
				})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "mark every notification seen")
	return cmd
}
