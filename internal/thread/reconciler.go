// ABOUTME: Thread reconciler: merges REST history with realtime arrivals for the open conversation
// ABOUTME: Owns the local thread state, dedupes echoes, keeps entries sorted by createdAt

package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/dedupe"
)

var (
	// ErrStale is returned when a fetch finished after the thread moved on.
	ErrStale = errors.New("stale thread fetch")
	// ErrNotLive is returned when the given conversation is not the open thread.
	ErrNotLive = errors.New("thread not live")
	// ErrNoConversation is returned by Retry and Reload while closed.
	ErrNoConversation = errors.New("no conversation open")
	// ErrInvalidConversation is returned by Open for malformed conversations.
	ErrInvalidConversation = errors.New("invalid conversation")
	// ErrUnknownEntry is returned when a local id is not in the thread.
	ErrUnknownEntry = errors.New("unknown thread entry")
)

// State is the reconciler's lifecycle state.
type State int

const (
	StateClosed State = iota
	StateLoading
	StateLive
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// Status is the delivery status of a thread entry.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

// Entry is one message in the local thread.
type Entry struct {
	chat.Message
	Status Status
	// LocalID is set for messages composed in this process.
	LocalID string
	// Failure is the persistence error of a failed entry.
	Failure error
}

// Fetcher loads a conversation's history.
type Fetcher interface {
	ListMessages(ctx context.Context, conversationID string) ([]*chat.Message, error)
}

// Config configures a Reconciler.
type Config struct {
	Fetcher Fetcher
	// EchoWindow is the fallback dedupe window for arrivals without a message id.
	EchoWindow time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// Reconciler holds the thread of at most one open conversation.
type Reconciler struct {
	fetcher Fetcher
	window  time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	state    State
	conv     *chat.Conversation
	gen      uint64
	cancel   context.CancelFunc
	err      error
	entries  []Entry
	ids      map[string]struct{}
	buffered []chat.Arrival
	recent   *dedupe.Window
}

// New creates a closed Reconciler.
func New(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	window := cfg.EchoWindow
	if window <= 0 {
		window = dedupe.DefaultTTL
	}
	return &Reconciler{
		fetcher: cfg.Fetcher,
		window:  window,
		logger:  logger.With("component", "thread"),
		now:     now,
		ids:     make(map[string]struct{}),
		recent:  dedupe.New(window, dedupe.DefaultMaxSize),
	}
}

// Open switches to conv and loads its history. Any previous thread state is
// discarded, including when conv is the conversation already open.
func (r *Reconciler) Open(ctx context.Context, conv *chat.Conversation) error {
	if conv == nil || !conv.Valid() {
		return ErrInvalidConversation
	}

	c := *conv
	c.Members = slices.Clone(conv.Members)

	r.mu.Lock()
	r.resetLocked()
	r.conv = &c
	gen, fetchCtx := r.beginLoadLocked(ctx)
	r.mu.Unlock()

	r.logger.Debug("opening thread", "conversation_id", c.ID, "gen", gen)
	return r.fetch(fetchCtx, gen, c.ID)
}

// Retry re-issues a failed history fetch. It is a no-op on a live thread.
func (r *Reconciler) Retry(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateClosed:
		r.mu.Unlock()
		return ErrNoConversation
	case StateLive:
		r.mu.Unlock()
		return nil
	}
	convID := r.conv.ID
	gen, fetchCtx := r.beginLoadLocked(ctx)
	r.mu.Unlock()

	return r.fetch(fetchCtx, gen, convID)
}

// Reload refetches the open conversation and reseeds the thread. Local
// entries survive the reseed unless the fetch returned their persisted copy.
func (r *Reconciler) Reload(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateClosed {
		r.mu.Unlock()
		return ErrNoConversation
	}
	convID := r.conv.ID
	gen, fetchCtx := r.beginLoadLocked(ctx)
	r.mu.Unlock()

	return r.fetch(fetchCtx, gen, convID)
}

// Close discards the thread and cancels any fetch in flight.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
	r.gen++
}

func (r *Reconciler) resetLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.state = StateClosed
	r.conv = nil
	r.err = nil
	r.entries = nil
	r.ids = make(map[string]struct{})
	r.buffered = nil
	r.recent.Reset()
}

func (r *Reconciler) beginLoadLocked(ctx context.Context) (uint64, context.Context) {
	if r.cancel != nil {
		r.cancel()
	}
	r.gen++
	r.state = StateLoading
	r.err = nil
	fetchCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	return r.gen, fetchCtx
}

func (r *Reconciler) fetch(ctx context.Context, gen uint64, convID string) error {
	msgs, err := r.fetcher.ListMessages(ctx, convID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen {
		r.logger.Debug("discarding stale fetch", "conversation_id", convID, "gen", gen)
		return ErrStale
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if err != nil {
		r.err = fmt.Errorf("load thread %s: %w", convID, err)
		r.logger.Warn("thread load failed", "conversation_id", convID, "error", err)
		return r.err
	}

	r.seedLocked(msgs)
	r.state = StateLive
	r.logger.Debug("thread live", "conversation_id", convID, "messages", len(r.entries))
	return nil
}

func (r *Reconciler) seedLocked(msgs []*chat.Message) {
	var carried []Entry
	for _, e := range r.entries {
		if e.LocalID != "" && e.ConversationID == r.conv.ID {
			carried = append(carried, e)
		}
	}

	r.entries = make([]Entry, 0, len(msgs)+len(carried)+len(r.buffered))
	r.ids = make(map[string]struct{}, len(msgs))
	r.recent.Reset()

	for _, m := range msgs {
		if m == nil || m.ConversationID != r.conv.ID {
			continue
		}
		if _, dup := r.ids[m.ID]; dup {
			continue
		}
		r.appendLocked(Entry{Message: cloneMessage(*m), Status: StatusConfirmed})
	}
	// Local sends survive unless the fetch already returned their persisted copy.
	for _, e := range carried {
		if e.ID != "" {
			if _, dup := r.ids[e.ID]; dup {
				continue
			}
		}
		r.appendLocked(e)
	}

	buffered := r.buffered
	r.buffered = nil
	for _, a := range buffered {
		r.acceptLocked(a)
	}
	r.sortLocked()
}

// HandleArrival routes a realtime message into the thread. It reports whether
// the arrival was appended, or buffered while the thread is loading.
// Arrivals from non-members, for another conversation, or already present
// are dropped.
func (r *Reconciler) HandleArrival(a chat.Arrival) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed || !r.belongsLocked(a) {
		return false
	}
	if r.state == StateLoading {
		r.buffered = append(r.buffered, a)
		return true
	}
	if !r.acceptLocked(a) {
		return false
	}
	r.sortLocked()
	return true
}

func (r *Reconciler) belongsLocked(a chat.Arrival) bool {
	if !r.conv.HasMember(a.SenderID) {
		return false
	}
	return a.ConversationID == "" || a.ConversationID == r.conv.ID
}

func (r *Reconciler) acceptLocked(a chat.Arrival) bool {
	msg := a.Message()
	msg.ConversationID = r.conv.ID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now()
	}

	entry := Entry{Message: cloneMessage(msg), Status: StatusConfirmed}
	if msg.ID == "" {
		if r.recent.CheckAndMark(echoKey(msg), msg.CreatedAt) {
			r.logger.Debug("dropping echo", "sender", msg.Sender)
			return false
		}
		r.entries = append(r.entries, entry)
		return true
	}
	if _, dup := r.ids[msg.ID]; dup {
		r.logger.Debug("dropping duplicate arrival", "message_id", msg.ID)
		return false
	}
	r.appendLocked(entry)
	return true
}

func (r *Reconciler) appendLocked(e Entry) {
	r.entries = append(r.entries, e)
	if e.ID != "" {
		r.ids[e.ID] = struct{}{}
	}
	r.recent.Mark(echoKey(e.Message), e.CreatedAt)
}

// sortLocked orders entries by createdAt; equal times keep their relative order.
func (r *Reconciler) sortLocked() {
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].CreatedAt.Before(r.entries[j].CreatedAt)
	})
}

// AppendPending adds a locally composed message to the thread of its
// conversation and returns the local id used to confirm or fail it. The
// conversation must be open; a load in flight keeps the entry across the
// reseed.
func (r *Reconciler) AppendPending(msg chat.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed || r.conv.ID != msg.ConversationID {
		return "", ErrNotLive
	}

	msg.ID = ""
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now()
	}
	localID := uuid.NewString()
	r.appendLocked(Entry{Message: cloneMessage(msg), Status: StatusPending, LocalID: localID})
	r.sortLocked()
	return localID, nil
}

// Confirm replaces a pending entry with the persisted message. When the
// persisted message is already in the thread, the pending entry is dropped.
func (r *Reconciler) Confirm(localID string, msg chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(localID)
	if i < 0 {
		return ErrUnknownEntry
	}
	if _, dup := r.ids[msg.ID]; dup {
		r.entries = slices.Delete(r.entries, i, i+1)
		return nil
	}

	r.entries[i] = Entry{Message: cloneMessage(msg), Status: StatusConfirmed, LocalID: localID}
	if msg.ID != "" {
		r.ids[msg.ID] = struct{}{}
	}
	r.recent.Mark(echoKey(msg), msg.CreatedAt)
	r.sortLocked()
	return nil
}

// MarkFailed flags a pending entry as failed.
func (r *Reconciler) MarkFailed(localID string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(localID)
	if i < 0 {
		return ErrUnknownEntry
	}
	r.entries[i].Status = StatusFailed
	r.entries[i].Failure = cause
	return nil
}

func (r *Reconciler) indexLocked(localID string) int {
	if localID == "" {
		return -1
	}
	return slices.IndexFunc(r.entries, func(e Entry) bool { return e.LocalID == localID })
}

// Messages returns a copy of the thread in display order.
func (r *Reconciler) Messages() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		e.Message = cloneMessage(e.Message)
		out[i] = e
	}
	return out
}

// State returns the current lifecycle state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the error of the last failed load, if the thread is still loading.
func (r *Reconciler) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ConversationID returns the id of the open conversation, or "" when closed.
func (r *Reconciler) ConversationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conv == nil {
		return ""
	}
	return r.conv.ID
}

func echoKey(m chat.Message) string {
	return dedupe.Key(m.Sender, m.Text)
}

func cloneMessage(m chat.Message) chat.Message {
	m.Images = slices.Clone(m.Images)
	return m
}
