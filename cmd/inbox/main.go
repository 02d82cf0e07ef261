// ABOUTME: Entry point for the inbox terminal client
// ABOUTME: Thin cobra driver over the role-parameterized inbox core

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/config"
	"github.com/halfattire/inbox/internal/inbox"
	"github.com/halfattire/inbox/internal/logging"
	"github.com/halfattire/inbox/internal/realtime"
	"github.com/halfattire/inbox/internal/restclient"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:           "inbox",
		Short:         "Buyer and seller inbox client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to client.toml (default: ~/.config/inbox/client.toml)")

	root.AddCommand(conversationsCmd())
	root.AddCommand(startCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(chatCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultClientPath()
}

// app bundles what every command needs.
type app struct {
	cfg    *config.ClientConfig
	logger *slog.Logger
	api    *restclient.Client
}

func loadApp() (*app, error) {
	cfg, err := config.LoadClient(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	api := restclient.New(restclient.Config{
		BaseURL: cfg.Server.URL,
		Token:   cfg.Principal.Token,
		Timeout: cfg.Server.RequestTimeout,
		Logger:  logger,
	})
	return &app{cfg: cfg, logger: logger, api: api}, nil
}

func (s *app) principal() chat.Principal {
	return chat.Principal{ID: s.cfg.Principal.ID, Role: s.cfg.Role()}
}

func (s *app) newInbox() (*inbox.Inbox, error) {
	return inbox.New(inbox.Config{
		Principal: s.principal(),
		API:       s.api,
		Dialer: &realtime.WSDialer{
			URL:   s.cfg.Server.SocketURL,
			Token: s.cfg.Principal.Token,
		},
		Logger: s.logger,
	})
}

// startInbox runs the inbox in the background and waits briefly for the
// realtime connection. A missing connection is not fatal; messages are still
// persisted and the peer sees them on the next history load.
func (s *app) startInbox(ctx context.Context, wait time.Duration) (*inbox.Inbox, func(), error) {
	in, err := s.newInbox()
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		in.Run(ctx)
	}()
	stop := func() {
		cancel()
		<-done
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for !in.Connected() {
		select {
		case <-deadline.C:
			s.logger.Warn("realtime connection not established, continuing offline")
			return in, stop, nil
		case <-ctx.Done():
			return in, stop, nil
		case <-ticker.C:
		}
	}
	return in, stop, nil
}
