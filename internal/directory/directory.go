// ABOUTME: Conversation directory: the principal's conversation list, most recent first
// ABOUTME: Full refetch on every refresh, render-ready entries with placeholders for empty or malformed rows

package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/halfattire/inbox/internal/chat"
)

const (
	// NoMessagesLabel is shown for conversations without a last message.
	NoMessagesLabel = "No messages yet"
	// UnknownLabel is shown for conversations that do not have two members.
	UnknownLabel = "Unknown conversation"
)

// Lister fetches the conversations of a principal.
type Lister interface {
	ListConversations(ctx context.Context, role chat.Role, principalID string) ([]*chat.Conversation, error)
}

// PresenceView answers online queries.
type PresenceView interface {
	IsOnline(principalID string) bool
}

// Entry is a render-ready directory row.
type Entry struct {
	ConversationID  string
	PeerID          string
	Label           string
	Preview         string
	LastMessageTime *time.Time
	PeerOnline      bool
	// Valid is false for malformed conversations, which are shown but not openable.
	Valid bool
}

// Config configures a Directory.
type Config struct {
	Client    Lister
	Principal chat.Principal
	// Presence is optional; without it every peer reads as offline.
	Presence PresenceView
	Logger   *slog.Logger
}

// Directory holds the principal's conversation list.
type Directory struct {
	client    Lister
	principal chat.Principal
	presence  PresenceView
	logger    *slog.Logger

	mu    sync.RWMutex
	convs []*chat.Conversation
	byID  map[string]*chat.Conversation
	gen   uint64
	err   error
}

// New creates an empty Directory.
func New(cfg Config) *Directory {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		client:    cfg.Client,
		principal: cfg.Principal,
		presence:  cfg.Presence,
		logger:    logger.With("component", "directory"),
		byID:      make(map[string]*chat.Conversation),
	}
}

// Load refetches the whole list. When loads overlap, the one started last wins.
func (d *Directory) Load(ctx context.Context) error {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	convs, err := d.client.ListConversations(ctx, d.principal.Role, d.principal.ID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		d.logger.Debug("discarding superseded load", "gen", gen)
		return nil
	}
	if err != nil {
		d.err = err
		return fmt.Errorf("load conversations: %w", err)
	}

	d.err = nil
	d.replaceLocked(convs)
	d.logger.Debug("loaded conversations", "count", len(d.convs))
	return nil
}

// Apply merges a single updated conversation into the cached list.
func (d *Directory) Apply(conv *chat.Conversation) {
	if conv == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	c := cloneConversation(conv)
	if _, ok := d.byID[c.ID]; ok {
		for i, existing := range d.convs {
			if existing.ID == c.ID {
				d.convs[i] = c
				break
			}
		}
	} else {
		d.convs = append(d.convs, c)
	}
	d.byID[c.ID] = c
	sortConversations(d.convs)
}

func (d *Directory) replaceLocked(convs []*chat.Conversation) {
	d.convs = make([]*chat.Conversation, 0, len(convs))
	d.byID = make(map[string]*chat.Conversation, len(convs))
	for _, conv := range convs {
		if conv == nil {
			continue
		}
		c := cloneConversation(conv)
		d.convs = append(d.convs, c)
		d.byID[c.ID] = c
	}
	sortConversations(d.convs)
}

// Err returns the error of the most recent load, if it failed.
func (d *Directory) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.err
}

// Get returns a cached conversation.
func (d *Directory) Get(id string) (*chat.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byID[id]
	if !ok {
		return nil, false
	}
	return cloneConversation(c), true
}

// Conversations returns the cached list in display order.
func (d *Directory) Conversations() []*chat.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*chat.Conversation, len(d.convs))
	for i, c := range d.convs {
		out[i] = cloneConversation(c)
	}
	return out
}

// Entries returns render-ready rows in display order.
func (d *Directory) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]Entry, 0, len(d.convs))
	for _, c := range d.convs {
		entries = append(entries, d.entryFor(c))
	}
	return entries
}

func (d *Directory) entryFor(c *chat.Conversation) Entry {
	e := Entry{
		ConversationID:  c.ID,
		LastMessageTime: c.LastMessageTime,
		Preview:         NoMessagesLabel,
	}
	if c.LastMessage != nil {
		e.Preview = *c.LastMessage
	}

	peer, ok := c.Peer(d.principal.ID)
	if !ok {
		e.Label = UnknownLabel
		return e
	}
	e.Valid = true
	e.PeerID = peer
	e.Label = peer
	if d.presence != nil {
		e.PeerOnline = d.presence.IsOnline(peer)
	}
	return e
}

// sortConversations orders by last message time descending. Conversations
// without messages go last; ties break on id.
func sortConversations(convs []*chat.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		a, b := convs[i], convs[j]
		if (a.LastMessageTime == nil) != (b.LastMessageTime == nil) {
			return a.LastMessageTime != nil
		}
		ta, tb := a.ActivityTime(), b.ActivityTime()
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.ID < b.ID
	})
}

func cloneConversation(c *chat.Conversation) *chat.Conversation {
	out := *c
	out.Members = append([]string(nil), c.Members...)
	if c.LastMessage != nil {
		s := *c.LastMessage
		out.LastMessage = &s
	}
	if c.LastMessageTime != nil {
		t := *c.LastMessageTime
		out.LastMessageTime = &t
	}
	return &out
}
