package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mmynk/commonbox/internal/calculator"
	"github.com/mmynk/commonbox/internal/models"
)

// ChatOptions holds flags for the chat commands.
type ChatOptions struct {
	*RootOptions
	Box string
}

// NewChatCommand creates the chat command group.
func NewChatCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk with the other participants of a box",
	}
	cmd.AddCommand(newChatSendCommand(rootOpts))
	cmd.AddCommand(newChatListCommand(rootOpts))
	return cmd
}

func newChatSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send TEXT...",
		Short: "Send a message to a box",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts.RootOptions, func(ctx context.Context, c *client) error {
				s, err := c.requireSignedIn()
				if err != nil {
					return err
				}
				boxID, err := resolveBox(s, opts.Box)
				if err != nil {
					return err
				}
				if err := c.engine.SendMessage(ctx, boxID, strings.Join(args, " ")); err != nil {
					return opFailed(err)
				}
				msgs := calculator.BoxMessages(c.engine.Snapshot().Messages, boxID)
				var sent models.ChatMessage
				if len(msgs) > 0 {
					sent = msgs[0]
				}
				return c.out.Success(sent, func(w io.Writer) {
					fmt.Fprintln(w, "Sent.")
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Box, "box", "", "box ID (defaults to the selected box)")
	return cmd
}

func newChatListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the messages of a box, oldest first",
		Long: `Show the messages of a box, oldest first. Listing another box than the
selected one selects it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts.RootOptions, func(ctx context.Context, c *client) error {
				s, err := c.requireSignedIn()
				if err != nil {
					return err
				}
				boxID, err := resolveBox(s, opts.Box)
				if err != nil {
					return err
				}
				if boxID != s.SelectedBoxID {
					if err := c.engine.SelectBox(boxID); err != nil {
						return opFailed(err)
					}
					s = c.engine.Snapshot()
				}

				msgs := calculator.BoxMessages(s.Messages, boxID)
				slices.Reverse(msgs)
				now := c.opts.Now()
				return c.out.Success(msgs, func(w io.Writer) {
					if len(msgs) == 0 {
						fmt.Fprintln(w, "No messages yet.")
						return
					}
					for _, m := range msgs {
						fmt.Fprintf(w, "[%s] %s: %s\n",
							humanize.RelTime(m.CreatedAt, now, "ago", "from now"),
							calculator.DisplayName(s.Users, m.SenderUserID), m.Text)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Box, "box", "", "box ID (defaults to the selected box)")
	return cmd
}
