package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mmynk/commonbox/internal/calculator"
	"github.com/mmynk/commonbox/internal/engine"
	"github.com/mmynk/commonbox/internal/models"
)

// NewBoxCommand creates the box command group.
func NewBoxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "box",
		Short: "Create, list and select boxes",
	}
	cmd.AddCommand(newBoxCreateCommand(rootOpts))
	cmd.AddCommand(newBoxListCommand(rootOpts))
	cmd.AddCommand(newBoxSelectCommand(rootOpts))
	return cmd
}

// BoxCreateOptions holds flags for the box create command.
type BoxCreateOptions struct {
	*RootOptions
	Participants []string
}

func newBoxCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BoxCreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a box shared with other users and select it",
		Long: `Create a box shared with other users and select it. You are always a
participant.

Examples:
  commonbox box create Pantry --with ravi@svern.app --with u3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts.RootOptions, func(ctx context.Context, c *client) error {
				s, err := c.requireSignedIn()
				if err != nil {
					return err
				}
				ids := make([]string, 0, len(opts.Participants))
				for _, ref := range opts.Participants {
					id, err := resolveUser(s, ref)
					if err != nil {
						return err
					}
					ids = append(ids, id)
				}

				boxID, err := c.engine.AddBox(ctx, args[0], ids)
				if err != nil {
					return opFailed(err)
				}
				box, _ := c.engine.Snapshot().Box(boxID)
				return c.out.Success(box, func(w io.Writer) {
					fmt.Fprintf(w, "Created box %s (%s) with %d participant(s).\n", box.Name, box.ID, len(box.ParticipantIDs))
				})
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.Participants, "with", nil, "participant user ID or email (repeatable)")
	return cmd
}

func newBoxListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your boxes and their items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, c *client) error {
				s, err := c.requireSignedIn()
				if err != nil {
					return err
				}
				boxes := calculator.MyBoxes(s.Boxes, s.CurrentUserID)
				now := c.opts.Now()
				return c.out.Success(boxes, func(w io.Writer) {
					if len(boxes) == 0 {
						fmt.Fprintln(w, "No boxes yet. Create one with: commonbox box create NAME")
						return
					}
					for _, b := range boxes {
						writeBox(w, s, b, now)
					}
				})
			})
		},
	}
}

func writeBox(w io.Writer, s engine.State, b models.CommonBox, now time.Time) {
	marker := " "
	if b.ID == s.SelectedBoxID {
		marker = "*"
	}
	names := make([]string, 0, len(b.ParticipantIDs))
	for _, id := range b.ParticipantIDs {
		names = append(names, calculator.DisplayName(s.Users, id))
	}
	fmt.Fprintf(w, "%s %s  %s  [%s]\n", marker, b.ID, b.Name, strings.Join(names, ", "))
	for _, it := range b.Items {
		concern := ""
		if it.HasConcern {
			concern = "  (concern raised)"
		}
		fmt.Fprintf(w, "    %s  %s  owner: %s, added %s%s\n",
			it.ID, it.Label, calculator.DisplayName(s.Users, it.OwnerUserID),
			humanize.RelTime(it.CreatedAt, now, "ago", "from now"), concern)
	}
}

func newBoxSelectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "select BOX_ID",
		Short: "Select a box",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, rootOpts, func(ctx context.Context, c *client) error {
				if _, err := c.requireSignedIn(); err != nil {
					return err
				}
				if err := c.engine.SelectBox(args[0]); err != nil {
					return opFailed(err)
				}
				box, _ := c.engine.Snapshot().Box(args[0])
				return c.out.Success(box, func(w io.Writer) {
					fmt.Fprintf(w, "Selected %s.\n", box.Name)
				})
			})
		},
	}
}

// NewItemCommand creates the item command group.
func NewItemCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Add items and settle who owns them",
	}
	cmd.AddCommand(newItemAddCommand(rootOpts))
	cmd.AddCommand(newItemConcernCommand(rootOpts))
	cmd.AddCommand(newItemClaimCommand(rootOpts))
	return cmd
}

// ItemOptions holds flags shared by the item commands.
type ItemOptions struct {
	*RootOptions
	Box   string
	Owner string
}

func newItemAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ItemOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add an item to a box",
		Args:  cobra.ExactArgs(1),
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
				owner := s.CurrentUserID
				if opts.Owner != "" {
					if owner, err = resolveUser(s, opts.Owner); err != nil {
						return err
					}
				}

				if err := c.engine.AddItem(ctx, boxID, args[0], owner); err != nil {
					return opFailed(err)
				}
				box, _ := c.engine.Snapshot().Box(boxID)
				item := box.Items[0]
				return c.out.Success(item, func(w io.Writer) {
					fmt.Fprintf(w, "Added %s (%s) to %s, owned by %s.\n",
						item.Label, item.ID, box.Name, calculator.DisplayName(s.Users, item.OwnerUserID))
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Box, "box", "", "box ID (defaults to the selected box)")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner user ID or email (defaults to you)")
	return cmd
}

func newItemConcernCommand(rootOpts *RootOptions) *cobra.Command {
	return newItemActionCommand(rootOpts, "concern ITEM_ID", "Flag an item as possibly not belonging to its owner",
		func(ctx context.Context, e *engine.Engine, boxID, itemID string) {
			e.RaiseConcern(ctx, boxID, itemID)
		},
		"Concern raised.")
}

func newItemClaimCommand(rootOpts *RootOptions) *cobra.Command {
	return newItemActionCommand(rootOpts, "claim ITEM_ID", "Claim ownership of an item",
		func(ctx context.Context, e *engine.Engine, boxID, itemID string) {
			e.ClaimOwnership(ctx, boxID, itemID)
		},
		"Ownership claimed.")
}

// newItemActionCommand builds a command for an ownership operation. Those
// operations report problems through the toast and do nothing when there
// is nothing to change.
func newItemActionCommand(rootOpts *RootOptions, use, short string,
	action func(ctx context.Context, e *engine.Engine, boxID, itemID string), done string) *cobra.Command {
	opts := &ItemOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
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
				box, _ := s.Box(boxID)
				if _, ok := box.Item(args[0]); !ok {
					return NewExitError(ExitFailure, "item not found: "+args[0])
				}

				action(ctx, c.engine, boxID, args[0])
				if err := c.toastFailure(); err != nil {
					return err
				}
				after := c.engine.Snapshot()
				changed := after.Version != s.Version
				box, _ = after.Box(boxID)
				item, _ := box.Item(args[0])
				return c.out.Success(item, func(w io.Writer) {
					if !changed {
						fmt.Fprintln(w, "Nothing to change.")
						return
					}
					fmt.Fprintln(w, done)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Box, "box", "", "box ID (defaults to the selected box)")
	return cmd
}
