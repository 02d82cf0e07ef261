// ABOUTME: One-shot inbox client commands: conversations, start, history, send
// ABOUTME: Output formatting shared with the interactive chat command

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/halfattire/inbox/internal/directory"
	"github.com/halfattire/inbox/internal/thread"
)

const connectWait = 3 * time.Second

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadApp()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			dir := directory.New(directory.Config{Client: s.api, Principal: s.principal(), Logger: s.logger})
			if err := dir.Load(ctx); err != nil {
				return err
			}
			printDirectory(cmd.OutOrStdout(), dir.Entries())
			return nil
		},
	}
}

func startCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "start PEER_ID",
		Short: "Start (or find) the conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadApp()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			in, err := s.newInbox()
			if err != nil {
				return err
			}
			conv, err := in.StartConversation(ctx, args[0], title)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "group title shown to both members")
	return cmd
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history CONVERSATION_ID",
		Short: "Print a conversation's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadApp()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			in, err := s.newInbox()
			if err != nil {
				return err
			}
			if err := in.Open(ctx, args[0]); err != nil {
				return err
			}
			printThread(cmd.OutOrStdout(), s.cfg.Principal.ID, in.Thread())
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var images []string
	cmd := &cobra.Command{
		Use:   "send CONVERSATION_ID [TEXT...]",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadApp()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			in, stop, err := s.startInbox(ctx, connectWait)
			if err != nil {
				return err
			}
			defer stop()

			msg, err := in.Send(ctx, args[0], strings.Join(args[1:], " "), images)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&images, "image", nil, "image reference to attach (repeatable)")
	return cmd
}

func printDirectory(w io.Writer, entries []directory.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No conversations yet")
		return
	}
	for _, e := range entries {
		fmt.Fprintln(w, formatEntry(e))
	}
}

func formatEntry(e directory.Entry) string {
	dot := color.HiBlackString("○")
	if e.PeerOnline {
		dot = color.GreenString("●")
	}
	when := ""
	if e.LastMessageTime != nil {
		when = color.HiBlackString(" " + e.LastMessageTime.Local().Format("Jan 2 15:04"))
	}
	label := e.Label
	if !e.Valid {
		label = color.YellowString(label)
	}
	return fmt.Sprintf("%s %s  %s  %s%s", dot, color.CyanString(e.ConversationID), label, e.Preview, when)
}

func printThread(w io.Writer, self string, entries []thread.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, color.HiBlackString("(no messages)"))
		return
	}
	for _, e := range entries {
		fmt.Fprintln(w, formatMessage(self, e))
	}
}

func formatMessage(self string, e thread.Entry) string {
	who := e.Sender
	if who == self {
		who = color.GreenString("you")
	} else {
		who = color.CyanString(who)
	}

	body := e.Text
	if len(e.Images) > 0 {
		attach := fmt.Sprintf("[%d image(s): %s]", len(e.Images), strings.Join(e.Images, ", "))
		body = strings.TrimSpace(body + " " + attach)
	}

	var status string
	switch e.Status {
	case thread.StatusPending:
		status = color.HiBlackString(" (sending)")
	case thread.StatusFailed:
		status = color.RedString(" (failed)")
	}

	return fmt.Sprintf("%s %s: %s%s", color.HiBlackString(e.CreatedAt.Local().Format("15:04")), who, body, status)
}
