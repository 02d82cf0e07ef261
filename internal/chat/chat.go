// ABOUTME: Domain types for the buyer/seller inbox: roles, conversations, messages, presence
// ABOUTME: Shared by the REST server, the relay, and the role-parameterized client core

package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Role identifies which side of the marketplace a principal acts for.
type Role string

const (
	// RoleUser is a buyer.
	RoleUser Role = "user"
	// RoleSeller is a shop owner.
	RoleSeller Role = "seller"
)

// ErrInvalidRole is returned by ParseRole for anything but "user" or "seller".
var ErrInvalidRole = errors.New("invalid role")

// ParseRole converts a string into a Role. "buyer" is accepted as an alias for "user".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "buyer":
		return RoleUser, nil
	case "seller", "shop":
		return RoleSeller, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleSeller
}

// Principal is one endpoint of a conversation.
type Principal struct {
	ID   string
	Role Role
}

// Conversation is a two-party thread between a buyer and a seller.
type Conversation struct {
	ID              string     `json:"id"`
	GroupTitle      string     `json:"groupTitle,omitempty"`
	Members         []string   `json:"members"`
	LastMessage     *string    `json:"lastMessage"`
	LastMessageID   string     `json:"lastMessageId,omitempty"`
	LastMessageTime *time.Time `json:"lastMessageTime"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Valid reports whether the conversation has exactly two distinct, non-empty members.
func (c *Conversation) Valid() bool {
	if len(c.Members) != 2 {
		return false
	}
	return c.Members[0] != "" && c.Members[1] != "" && c.Members[0] != c.Members[1]
}

// HasMember reports whether principalID is one of the conversation's members.
func (c *Conversation) HasMember(principalID string) bool {
	if principalID == "" {
		return false
	}
	return lo.Contains(c.Members, principalID)
}

// Peer returns the member that is not self. The second return value is false
// when self is not a member or the conversation is malformed.
func (c *Conversation) Peer(self string) (string, bool) {
	if !c.Valid() || !c.HasMember(self) {
		return "", false
	}
	if c.Members[0] == self {
		return c.Members[1], true
	}
	return c.Members[0], true
}

// ActivityTime is the time used to order conversations: the last message time,
// or the zero time when the conversation has no messages yet.
func (c *Conversation) ActivityTime() time.Time {
	if c.LastMessageTime == nil {
		return time.Time{}
	}
	return *c.LastMessageTime
}

// Message is a single persisted chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text,omitempty"`
	Images         []string  `json:"images,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Empty reports whether the message carries neither text nor images.
func (m *Message) Empty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Images) == 0
}

// Summary is the text recorded as a conversation's last message.
func (m *Message) Summary() string {
	if m.Text != "" {
		return m.Text
	}
	if len(m.Images) == 1 {
		return "Sent a photo"
	}
	return fmt.Sprintf("Sent %d photos", len(m.Images))
}

// PresenceEntry pairs an online principal with one of its live connections.
type PresenceEntry struct {
	PrincipalID  string `json:"userId"`
	ConnectionID string `json:"socketId"`
}

// Arrival is a message delivered over the realtime channel. MessageID and
// ConversationID are empty when the sending client did not thread them through.
type Arrival struct {
	SenderID       string
	ConversationID string
	MessageID      string
	Text           string
	Images         []string
	CreatedAt      time.Time
}

// Message converts the arrival into a thread message.
func (a *Arrival) Message() Message {
	return Message{
		ID:             a.MessageID,
		ConversationID: a.ConversationID,
		Sender:         a.SenderID,
		Text:           a.Text,
		Images:         a.Images,
		CreatedAt:      a.CreatedAt,
	}
}
