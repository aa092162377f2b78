package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/streamchat/internal/store"
	"github.com/capitalize-ai/streamchat/internal/stream"
)

func newSendCommand(a *app) *cobra.Command {
	var conversationID string
	var images []string
	var raw bool

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message and stream the answer",
		Long: "Send a message and stream the answer. Without --conversation a new conversation is " +
			"created. Images may be local files, http(s) links or data URLs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))

			attachments, err := loadImages(images)
			if err != nil {
				return err
			}

			out := newPrinter(os.Stdout, os.Stderr, raw)
			sched := stream.NewFrameScheduler(0)
			defer sched.Close()

			ctrl, err := a.controller(cmd.Context(), conversationID, sched, out.update)
			if err != nil {
				return err
			}

			final, err := ctrl.Send(cmd.Context(), text, attachments)
			sched.Close()
			if err != nil {
				return err
			}
			return out.finish(final, ctrl.Conversation())
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Continue an existing conversation")
	cmd.Flags().StringSliceVarP(&images, "image", "i", nil, "Attach an image (repeatable)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print plain text instead of rendered markdown")
	return cmd
}

func newRegenerateCommand(a *app) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "regenerate <conversation-id>",
		Short: "Replace the last answer of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newPrinter(os.Stdout, os.Stderr, raw)
			sched := stream.NewFrameScheduler(0)
			defer sched.Close()

			ctrl, err := a.controller(cmd.Context(), args[0], sched, out.update)
			if err != nil {
				return err
			}

			final, err := ctrl.Regenerate(cmd.Context())
			sched.Close()
			if err != nil {
				return err
			}
			return out.finish(final, ctrl.Conversation())
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print plain text instead of rendered markdown")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			convs, total, err := a.store.ListConversations(cmd.Context(), store.ListOptions{
				TenantID: localTenant,
				UserID:   a.settings.userID,
				Limit:    limit,
				Offset:   offset,
			})
			if err != nil {
				return err
			}

			for _, c := range convs {
				fmt.Fprintf(os.Stdout, "%s  %s  %3d  %s\n",
					c.ID, c.UpdatedAt.Local().Format("2006-01-02 15:04"), c.TurnCount, c.Title)
			}
			if offset+len(convs) < total {
				fmt.Fprintf(os.Stderr, "%d more, use --offset %d\n", total-offset-len(convs), offset+len(convs))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", store.DefaultListLimit, "Maximum conversations to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Conversations to skip")
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var raw, pinnedOnly bool

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print the turns of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(cmd.Context(), args[0], nil, nil)
			if err != nil {
				return err
			}

			out := newPrinter(os.Stdout, os.Stderr, raw)
			conv := ctrl.Conversation()
			fmt.Fprintf(os.Stdout, "# %s\n\n", conv.Title)
			for _, turn := range ctrl.Turns() {
				if pinnedOnly && !turn.Pinned {
					continue
				}
				if err := out.turn(turn); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print plain text instead of rendered markdown")
	cmd.Flags().BoolVar(&pinnedOnly, "pinned", false, "Only show pinned turns")
	return cmd
}

func newPinCommand(a *app) *cobra.Command {
	var unpin bool

	cmd := &cobra.Command{
		Use:   "pin <conversation-id> <turn-id>",
		Short: "Pin or unpin a turn",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := a.controller(cmd.Context(), args[0], nil, nil)
			if err != nil {
				return err
			}
			turn, err := ctrl.Pin(cmd.Context(), args[1], !unpin)
			if err != nil {
				return err
			}
			state := "pinned"
			if !turn.Pinned {
				state = "unpinned"
			}
			fmt.Fprintf(os.Stdout, "%s %s\n", state, turn.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&unpin, "off", false, "Unpin instead of pin")
	return cmd
}
