// ABOUTME: Role-parameterized inbox core wiring session, directory, thread and dispatch
// ABOUTME: Instantiated once per principal; the buyer and seller clients share this code

package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/directory"
	"github.com/halfattire/inbox/internal/dispatch"
	"github.com/halfattire/inbox/internal/realtime"
	"github.com/halfattire/inbox/internal/session"
	"github.com/halfattire/inbox/internal/thread"
)

// updateBuffer bounds pending UI notifications; extra ones are dropped.
const updateBuffer = 64

// API is the REST surface the inbox needs.
type API interface {
	directory.Lister
	thread.Fetcher
	dispatch.Persister
	CreateConversation(ctx context.Context, groupTitle, userID, sellerID string) (*chat.Conversation, bool, error)
}

// UpdateKind says which part of the inbox changed.
type UpdateKind int

const (
	UpdateConnection UpdateKind = iota + 1
	UpdatePresence
	UpdateDirectory
	UpdateThread
)

// Update notifies the UI that it should re-read some state.
type Update struct {
	Kind UpdateKind
}

// Config configures an Inbox.
type Config struct {
	Principal chat.Principal
	API       API
	Dialer    realtime.Dialer
	Backoff   session.Backoff
	// Sleep overrides the reconnect wait, for tests.
	Sleep  session.SleepFunc
	Logger *slog.Logger
}

// Inbox is the client messaging core for one principal.
type Inbox struct {
	principal chat.Principal
	api       API
	session   *session.Manager
	directory *directory.Directory
	thread    *thread.Reconciler
	dispatch  *dispatch.Dispatcher
	logger    *slog.Logger
	updates   chan Update
}

// New wires an Inbox. Nothing connects until Run.
func New(cfg Config) (*Inbox, error) {
	if cfg.Principal.ID == "" {
		return nil, errors.New("principal id is required")
	}
	if !cfg.Principal.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", chat.ErrInvalidRole, cfg.Principal.Role)
	}
	if cfg.API == nil || cfg.Dialer == nil {
		return nil, errors.New("api and dialer are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("principal", cfg.Principal.ID, "role", string(cfg.Principal.Role))

	sess := session.New(session.Config{
		Dialer:      cfg.Dialer,
		PrincipalID: cfg.Principal.ID,
		Backoff:     cfg.Backoff,
		Sleep:       cfg.Sleep,
		Logger:      logger,
	})
	dir := directory.New(directory.Config{
		Client:    cfg.API,
		Principal: cfg.Principal,
		Presence:  sess,
		Logger:    logger,
	})
	th := thread.New(thread.Config{Fetcher: cfg.API, Logger: logger})
	disp := dispatch.New(dispatch.Config{
		PrincipalID: cfg.Principal.ID,
		Persister:   cfg.API,
		Emitter:     sess,
		Directory:   dir,
		Thread:      th,
		Logger:      logger,
	})

	return &Inbox{
		principal: cfg.Principal,
		api:       cfg.API,
		session:   sess,
		directory: dir,
		thread:    th,
		dispatch:  disp,
		logger:    logger.With("component", "inbox"),
		updates:   make(chan Update, updateBuffer),
	}, nil
}

// Run drives the session and the event loop until ctx is cancelled.
func (in *Inbox) Run(ctx context.Context) error {
	sessDone := make(chan error, 1)
	go func() { sessDone <- in.session.Run(ctx) }()

	in.refreshDirectory(ctx)

	for ev := range in.session.Events() {
		in.handle(ctx, ev)
	}
	return <-sessDone
}

func (in *Inbox) handle(ctx context.Context, ev session.Event) {
	switch ev.Kind {
	case session.EventConnected:
		in.notify(UpdateConnection)
		in.refreshDirectory(ctx)
		if in.thread.State() != thread.StateClosed {
			if err := in.thread.Reload(ctx); err != nil && !errors.Is(err, thread.ErrStale) {
				in.logger.Warn("thread reload after reconnect failed", "error", err)
			}
			in.notify(UpdateThread)
		}
	case session.EventDisconnected:
		in.notify(UpdateConnection)
	case session.EventPresence:
		in.notify(UpdatePresence)
	case session.EventMessage:
		if in.thread.HandleArrival(ev.Arrival) {
			in.notify(UpdateThread)
		}
		in.refreshDirectory(ctx)
	}
}

func (in *Inbox) refreshDirectory(ctx context.Context) {
	if err := in.directory.Load(ctx); err != nil {
		if ctx.Err() == nil {
			in.logger.Warn("directory refresh failed", "error", err)
		}
		return
	}
	in.notify(UpdateDirectory)
}

func (in *Inbox) notify(kind UpdateKind) {
	select {
	case in.updates <- Update{Kind: kind}:
	default:
	}
}

// Updates streams change notifications. Notifications are dropped when the
// reader falls behind, so readers should re-read state rather than count them.
func (in *Inbox) Updates() <-chan Update {
	return in.updates
}

// Principal returns the local principal.
func (in *Inbox) Principal() chat.Principal {
	return in.principal
}

// Refresh reloads the conversation directory.
func (in *Inbox) Refresh(ctx context.Context) error {
	return in.directory.Load(ctx)
}

// Conversations returns the directory rows, most recent first.
func (in *Inbox) Conversations() []directory.Entry {
	return in.directory.Entries()
}

// Open loads the history of a conversation and makes it the open thread.
func (in *Inbox) Open(ctx context.Context, conversationID string) error {
	conv, ok := in.directory.Get(conversationID)
	if !ok {
		if err := in.directory.Load(ctx); err != nil {
			return err
		}
		if conv, ok = in.directory.Get(conversationID); !ok {
			return fmt.Errorf("%w: %s", dispatch.ErrUnknownConversation, conversationID)
		}
	}
	err := in.thread.Open(ctx, conv)
	in.notify(UpdateThread)
	return err
}

// Close closes the open thread.
func (in *Inbox) Close() {
	in.thread.Close()
	in.notify(UpdateThread)
}

// Retry re-issues a failed thread load.
func (in *Inbox) Retry(ctx context.Context) error {
	err := in.thread.Retry(ctx)
	in.notify(UpdateThread)
	return err
}

// Thread returns the open thread's entries.
func (in *Inbox) Thread() []thread.Entry {
	return in.thread.Messages()
}

// ThreadState returns the open thread's state, its conversation id and the last load error.
func (in *Inbox) ThreadState() (thread.State, string, error) {
	return in.thread.State(), in.thread.ConversationID(), in.thread.Err()
}

// Send sends a message in a conversation.
func (in *Inbox) Send(ctx context.Context, conversationID, text string, images []string) (*chat.Message, error) {
	msg, err := in.dispatch.Send(ctx, conversationID, text, images)
	in.notify(UpdateThread)
	if err == nil {
		in.notify(UpdateDirectory)
	}
	return msg, err
}

// StartConversation returns the conversation with peerID, creating it when needed.
func (in *Inbox) StartConversation(ctx context.Context, peerID, groupTitle string) (*chat.Conversation, error) {
	userID, sellerID := in.principal.ID, peerID
	if in.principal.Role == chat.RoleSeller {
		userID, sellerID = peerID, in.principal.ID
	}

	conv, created, err := in.api.CreateConversation(ctx, groupTitle, userID, sellerID)
	if err != nil {
		return nil, fmt.Errorf("start conversation with %s: %w", peerID, err)
	}
	in.logger.Debug("conversation ready", "conversation_id", conv.ID, "created", created)
	in.directory.Apply(conv)
	in.notify(UpdateDirectory)
	return conv, nil
}

// Connected reports whether the realtime transport is up.
func (in *Inbox) Connected() bool {
	return in.session.Connected()
}

// IsOnline reports whether principalID was online in the latest presence snapshot.
func (in *Inbox) IsOnline(principalID string) bool {
	return in.session.IsOnline(principalID)
}

// PeerOnline reports whether the other member of a conversation is online.
func (in *Inbox) PeerOnline(conversationID string) bool {
	conv, ok := in.directory.Get(conversationID)
	if !ok {
		return false
	}
	peer, ok := conv.Peer(in.principal.ID)
	return ok && in.session.IsOnline(peer)
}
