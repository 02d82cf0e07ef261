// ABOUTME: Store interface and errors for inbox persistence
// ABOUTME: Conversations and messages are the durable record behind the REST API

package store

import (
	"context"
	"errors"
	"time"

	"github.com/halfattire/inbox/internal/chat"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation for the same member pair already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrInvalidMembers is returned when a conversation does not have exactly two distinct members
var ErrInvalidMembers = errors.New("conversation requires exactly two distinct members")

// ErrEmptyMessage is returned when a message has neither text nor images
var ErrEmptyMessage = errors.New("message has no text or images")

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *chat.Conversation) error
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)
	GetConversationByMembers(ctx context.Context, buyerID, sellerID string) (*chat.Conversation, error)
	ListConversationsForMember(ctx context.Context, principalID string) ([]*chat.Conversation, error)
	UpdateLastMessage(ctx context.Context, conversationID, lastMessage, lastMessageID string, at time.Time) (*chat.Conversation, error)

	// Messages
	SaveMessage(ctx context.Context, msg *chat.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*chat.Message, error)

	// Close releases any resources held by the store
	Close() error
}

// timeFormat is a fixed-width UTC layout so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}
