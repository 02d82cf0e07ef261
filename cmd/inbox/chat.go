// ABOUTME: Interactive chat command for the inbox client
// ABOUTME: Reads lines from stdin and redraws the thread whenever the inbox reports a change

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/halfattire/inbox/internal/inbox"
	"github.com/halfattire/inbox/internal/thread"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat CONVERSATION_ID",
		Short: "Open a conversation and chat interactively",
		Long: `Open a conversation and chat interactively.

Type a line and press enter to send it. Commands:
  /retry   reload the thread after a failed load
  /who     show whether the peer is online
  /quit    leave`,
		Args: cobra.ExactArgs(1),
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

			convID := args[0]
			if err := in.Open(ctx, convID); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("load failed: %v (type /retry)", err))
			}

			out := cmd.OutOrStdout()
			lines := readLines(ctx, cmd.InOrStdin())
			render(out, in)

			for {
				select {
				case <-ctx.Done():
					return nil
				case u := <-in.Updates():
					if u.Kind == inbox.UpdateThread || u.Kind == inbox.UpdateConnection {
						render(out, in)
					}
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if quit := handleLine(ctx, out, in, convID, line); quit {
						return nil
					}
				}
			}
		},
	}
}

// handleLine processes one input line and reports whether the user asked to quit.
func handleLine(ctx context.Context, out io.Writer, in *inbox.Inbox, convID, line string) bool {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/retry":
		if err := in.Retry(ctx); err != nil {
			fmt.Fprintln(out, color.RedString("retry failed: %v", err))
		}
		return false
	case "/who":
		state := "offline"
		if in.PeerOnline(convID) {
			state = "online"
		}
		fmt.Fprintln(out, color.HiBlackString("peer is %s", state))
		return false
	}

	if _, err := in.Send(ctx, convID, line, nil); err != nil {
		fmt.Fprintln(out, color.RedString("send failed: %v", err))
	}
	return false
}

func render(out io.Writer, in *inbox.Inbox) {
	state, convID, err := in.ThreadState()
	header := fmt.Sprintf("── %s ", convID)
	if !in.Connected() {
		header += color.YellowString("[offline] ")
	}
	fmt.Fprintln(out, color.HiBlackString(header))

	switch {
	case state == thread.StateLoading && err != nil:
		fmt.Fprintln(out, color.RedString("could not load messages: %v (type /retry)", err))
	case state == thread.StateLoading:
		fmt.Fprintln(out, color.HiBlackString("loading..."))
	default:
		printThread(out, in.Principal().ID, in.Thread())
	}
}

// readLines feeds stdin lines into a channel until EOF or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	if r == nil {
		r = os.Stdin
	}
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
