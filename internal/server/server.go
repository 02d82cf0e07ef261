// ABOUTME: inbox-server orchestrator: store, REST API, websocket relay and optional Redis/NATS
// ABOUTME: Owns the HTTP server lifecycle and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/halfattire/inbox/internal/auth"
	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/config"
	"github.com/halfattire/inbox/internal/httpapi"
	"github.com/halfattire/inbox/internal/presence"
	"github.com/halfattire/inbox/internal/relay"
	"github.com/halfattire/inbox/internal/store"
)

// Server wires the inbox-server components together.
type Server struct {
	config     *config.Config
	store      *store.SQLiteStore
	verifier   *auth.JWTVerifier
	api        *httpapi.API
	hub        *relay.Hub
	httpServer *http.Server
	logger     *slog.Logger

	// nodeID identifies this relay node on the bus and in the presence mirror
	nodeID string

	// mirror is the optional Redis presence mirror
	mirror *presence.RedisMirror

	// bus is the optional NATS relay bus
	bus *relay.NATSBus
}

// initStore opens the SQLite store. INBOX_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("INBOX_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Server from configuration. Optional backends are connected here.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		config: cfg,
		store:  s,
		logger: logger.With("component", "server"),
		nodeID: cfg.Relay.NodeID,
	}
	if srv.nodeID == "" {
		srv.nodeID = generateNodeID()
	}

	if err := srv.init(logger); err != nil {
		srv.closeComponents()
		return nil, err
	}
	return srv, nil
}

func (s *Server) init(logger *slog.Logger) error {
	cfg := s.config

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating token verifier: %w", err)
		}
		s.verifier = verifier
	} else {
		s.logger.Warn("auth.jwt_secret not set, REST and socket endpoints are unauthenticated")
	}

	var mirror presence.Mirror
	if cfg.Presence.Redis.Enabled {
		s.mirror = presence.NewRedisMirror(presence.RedisConfig{
			Addr:     cfg.Presence.Redis.Addr,
			Password: cfg.Presence.Redis.Password,
			DB:       cfg.Presence.Redis.DB,
			TTL:      cfg.Presence.Redis.TTL,
			NodeID:   s.nodeID,
		}, logger)
		mirror = s.mirror
		s.logger.Info("presence mirror enabled", "addr", cfg.Presence.Redis.Addr)
	}

	var bus relay.Bus
	if cfg.Relay.NATS.Enabled {
		b, err := relay.NewNATSBus(relay.NATSConfig{
			URL:           cfg.Relay.NATS.URL,
			Subject:       cfg.Relay.NATS.Subject,
			MaxReconnects: cfg.Relay.NATS.MaxReconnects,
			ReconnectWait: cfg.Relay.NATS.ReconnectWait,
		}, logger)
		if err != nil {
			return fmt.Errorf("connecting relay bus: %w", err)
		}
		s.bus = b
		bus = b
		s.logger.Info("relay bus enabled", "url", cfg.Relay.NATS.URL)
	}

	hub, err := relay.NewHub(relay.Config{
		Verifier:       s.verifier,
		Mirror:         mirror,
		Bus:            bus,
		NodeID:         s.nodeID,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("creating relay hub: %w", err)
	}
	s.hub = hub

	s.api = httpapi.New(httpapi.Config{
		Store:    s.store,
		Verifier: s.verifier,
		Logger:   logger,
	})

	mux := http.NewServeMux()
	s.api.Register(mux)
	mux.Handle(cfg.Server.SocketPath, hub)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Handler returns the HTTP handler serving REST, socket and health endpoints.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Hub returns the relay hub.
func (s *Server) Hub() *relay.Hub {
	return s.hub
}

// Run listens on the configured address and serves until ctx is canceled.
// Returns nil on graceful shutdown, or the first server error.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting inbox server",
		"http_addr", ln.Addr().String(),
		"socket_path", s.config.Server.SocketPath,
		"node_id", s.nodeID,
		"auth", s.verifier != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if s.mirror != nil {
		go s.refreshPresence(ctx)
	}

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// refreshPresence extends the TTL of every mirrored entry while its connection is live.
func (s *Server) refreshPresence(ctx context.Context) {
	ttl := s.config.Presence.Redis.TTL
	if ttl <= 0 {
		ttl = presence.DefaultMirrorTTL
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		registry := s.hub.Registry()
		for _, entry := range registry.Snapshot() {
			for _, conn := range registry.Connections(entry.PrincipalID) {
				e := chat.PresenceEntry{PrincipalID: entry.PrincipalID, ConnectionID: conn}
				if err := s.mirror.Refresh(ctx, e); err != nil {
					s.logger.Warn("presence refresh failed", "principal", e.PrincipalID, "error", err)
				}
			}
		}
	}
}

// gracefulShutdown uses a fresh context since the serving context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, disconnects sockets and closes backends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down inbox server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	errs = append(errs, s.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Server) closeComponents() []error {
	var errs []error
	if s.hub != nil {
		s.hub.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.mirror != nil {
		errs = appendCloseError(errs, "presence mirror close", s.mirror.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())
	return errs
}

// handleReady returns 200 when the store and enabled backends respond.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness: store unavailable", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if s.mirror != nil {
		if err := s.mirror.Ping(ctx); err != nil {
			s.logger.Warn("readiness: redis unavailable", "error", err)
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d online)", s.hub.Registry().Len())
}

// generateNodeID creates an identifier for this relay node.
func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "inbox"
	}
	return fmt.Sprintf("%s-%d", host, time.Now().UnixNano()%1000000)
}
