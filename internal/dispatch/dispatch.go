// ABOUTME: Send path for the inbox core: optimistic append, persist, broadcast, summary update
// ABOUTME: Persist always precedes the realtime emit so peers never see unstored messages

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/realtime"
	"github.com/halfattire/inbox/internal/restclient"
	"github.com/halfattire/inbox/internal/session"
	"github.com/halfattire/inbox/internal/thread"
)

var (
	ErrEmptyMessage        = errors.New("message has no text or images")
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrNotMember           = errors.New("not a member of conversation")
)

// Persister stores messages and conversation summaries.
type Persister interface {
	CreateMessage(ctx context.Context, in restclient.CreateMessageInput) (*chat.Message, error)
	UpdateLastMessage(ctx context.Context, conversationID, lastMessage, lastMessageID string) (*chat.Conversation, error)
}

// Emitter writes realtime events.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Directory resolves and refreshes conversations.
type Directory interface {
	Get(id string) (*chat.Conversation, bool)
	Apply(conv *chat.Conversation)
	Load(ctx context.Context) error
}

// Thread receives optimistic updates.
type Thread interface {
	AppendPending(msg chat.Message) (string, error)
	Confirm(localID string, msg chat.Message) error
	MarkFailed(localID string, cause error) error
}

// Config configures a Dispatcher.
type Config struct {
	PrincipalID string
	Persister   Persister
	Emitter     Emitter
	Directory   Directory
	Thread      Thread
	// Timeout bounds the persist call. Defaults to restclient.DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// Dispatcher sends messages on behalf of one principal.
type Dispatcher struct {
	self      string
	persister Persister
	emitter   Emitter
	directory Directory
	thread    Thread
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = restclient.DefaultTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		self:      cfg.PrincipalID,
		persister: cfg.Persister,
		emitter:   cfg.Emitter,
		directory: cfg.Directory,
		thread:    cfg.Thread,
		timeout:   timeout,
		logger:    logger.With("component", "dispatch", "principal", cfg.PrincipalID),
		now:       now,
	}
}

// Send persists a message and then notifies the peer over the realtime
// channel. A persistence failure marks the optimistic entry failed, skips the
// emit and is returned. Emit and summary update failures are only logged.
func (d *Dispatcher) Send(ctx context.Context, conversationID, text string, images []string) (*chat.Message, error) {
	draft := chat.Message{
		ConversationID: conversationID,
		Sender:         d.self,
		Text:           strings.TrimSpace(text),
		Images:         images,
		CreatedAt:      d.now(),
	}
	if draft.Empty() {
		return nil, ErrEmptyMessage
	}

	conv, err := d.resolve(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	peer, ok := conv.Peer(d.self)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, conversationID)
	}

	localID, err := d.thread.AppendPending(draft)
	if err != nil && !errors.Is(err, thread.ErrNotLive) {
		return nil, fmt.Errorf("append pending: %w", err)
	}

	msg, err := d.persist(ctx, draft)
	if err != nil {
		if localID != "" {
			if ferr := d.thread.MarkFailed(localID, err); ferr != nil {
				d.logger.Debug("pending entry gone", "local_id", localID, "error", ferr)
			}
		}
		d.logger.Warn("message not persisted", "conversation_id", conversationID, "error", err)
		return nil, fmt.Errorf("persist message: %w", err)
	}

	if localID != "" {
		if cerr := d.thread.Confirm(localID, *msg); cerr != nil {
			d.logger.Debug("pending entry gone", "local_id", localID, "error", cerr)
		}
	}

	d.emit(ctx, peer, msg)
	d.updateSummary(ctx, msg)
	return msg, nil
}

func (d *Dispatcher) resolve(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	if conv, ok := d.directory.Get(conversationID); ok {
		return conv, nil
	}
	if err := d.directory.Load(ctx); err != nil {
		d.logger.Warn("directory refresh failed", "error", err)
	}
	if conv, ok := d.directory.Get(conversationID); ok {
		return conv, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
}

func (d *Dispatcher) persist(ctx context.Context, draft chat.Message) (*chat.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return d.persister.CreateMessage(ctx, restclient.CreateMessageInput{
		Sender:         draft.Sender,
		Text:           draft.Text,
		ConversationID: draft.ConversationID,
		Images:         draft.Images,
	})
}

func (d *Dispatcher) emit(ctx context.Context, peer string, msg *chat.Message) {
	payload := realtime.SendMessage{
		SenderID:       msg.Sender,
		ReceiverID:     peer,
		Text:           msg.Text,
		Images:         msg.Images,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		CreatedAt:      msg.CreatedAt,
	}
	err := d.emitter.Emit(ctx, realtime.EventSendMessage, payload)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotConnected):
		d.logger.Info("offline, peer will see message on next history load", "message_id", msg.ID)
	default:
		d.logger.Warn("realtime emit failed", "message_id", msg.ID, "error", err)
	}
}

func (d *Dispatcher) updateSummary(ctx context.Context, msg *chat.Message) {
	conv, err := d.persister.UpdateLastMessage(ctx, msg.ConversationID, msg.Summary(), msg.Sender)
	if err != nil {
		d.logger.Warn("last message update failed", "conversation_id", msg.ConversationID, "error", err)
	} else {
		d.directory.Apply(conv)
	}

	if err := d.directory.Load(ctx); err != nil {
		d.logger.Warn("directory refresh failed", "error", err)
	}
}
