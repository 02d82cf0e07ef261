// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject persistence failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/halfattire/inbox/internal/chat"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*chat.Conversation // keyed by conversation ID
	pairIndex     map[string]string             // keyed by "buyerID:sellerID" -> conversation ID
	messages      map[string][]*chat.Message    // keyed by conversation ID

	// SaveErr, when set, is returned by SaveMessage without storing anything.
	SaveErr error
	// UpdateErr, when set, is returned by UpdateLastMessage.
	UpdateErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*chat.Conversation),
		pairIndex:     make(map[string]string),
		messages:      make(map[string][]*chat.Message),
	}
}

func copyConversation(c *chat.Conversation) *chat.Conversation {
	out := *c
	out.Members = append([]string(nil), c.Members...)
	if c.LastMessage != nil {
		text := *c.LastMessage
		out.LastMessage = &text
	}
	if c.LastMessageTime != nil {
		t := *c.LastMessageTime
		out.LastMessageTime = &t
	}
	return &out
}

func copyMessage(m *chat.Message) *chat.Message {
	out := *m
	out.Images = append([]string(nil), m.Images...)
	if len(out.Images) == 0 {
		out.Images = nil
	}
	return &out
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *chat.Conversation) error {
	if !conv.Valid() {
		return ErrInvalidMembers
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := conv.Members[0] + ":" + conv.Members[1]
	if _, exists := m.pairIndex[key]; exists {
		return ErrDuplicateConversation
	}
	if _, exists := m.conversations[conv.ID]; exists {
		return ErrDuplicateConversation
	}

	m.conversations[conv.ID] = copyConversation(conv)
	m.pairIndex[key] = conv.ID
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// GetConversationByMembers retrieves a conversation by its member pair.
func (m *MockStore) GetConversationByMembers(ctx context.Context, buyerID, sellerID string) (*chat.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pairIndex[buyerID+":"+sellerID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(m.conversations[id]), nil
}

// ListConversationsForMember returns the principal's conversations, most recent activity first.
func (m *MockStore) ListConversationsForMember(ctx context.Context, principalID string) ([]*chat.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*chat.Conversation
	for _, c := range m.conversations {
		if c.HasMember(principalID) {
			result = append(result, copyConversation(c))
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if (a.LastMessageTime == nil) != (b.LastMessageTime == nil) {
			return a.LastMessageTime != nil
		}
		if !a.ActivityTime().Equal(b.ActivityTime()) {
			return a.ActivityTime().After(b.ActivityTime())
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	return result, nil
}

// UpdateLastMessage records the last-message summary.
func (m *MockStore) UpdateLastMessage(ctx context.Context, conversationID, lastMessage, lastMessageID string, at time.Time) (*chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}

	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	text := lastMessage
	ts := at
	c.LastMessage = &text
	c.LastMessageID = lastMessageID
	c.LastMessageTime = &ts

	return copyConversation(c), nil
}

// SaveMessage stores a message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *chat.Message) error {
	if msg.Empty() {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveErr != nil {
		return m.SaveErr
	}
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}

	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], copyMessage(msg))
	return nil
}

// ListMessages returns a conversation's messages in chronological order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	result := make([]*chat.Message, 0, len(msgs))
	for _, msg := range msgs {
		result = append(result, copyMessage(msg))
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time check that MockStore implements Store
var _ Store = (*MockStore)(nil)

// Compile-time check that SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
