// ABOUTME: JSON frame codec and payload types for the inbox realtime protocol
// ABOUTME: Used by both the relay server and the client session manager

package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/halfattire/inbox/internal/chat"
)

// Event names.
const (
	EventAddUser     = "addUser"
	EventGetUsers    = "getUsers"
	EventSendMessage = "sendMessage"
	EventGetMessage  = "getMessage"
	EventError       = "error"
)

// Frame is a single protocol message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes payload into a frame for event.
func NewFrame(event string, payload any) (Frame, error) {
	f := Frame{Event: event}
	if payload == nil {
		return f, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	f.Data = data
	return f, nil
}

// Decode unmarshals the frame's payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no data", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return nil
}

// SendMessage is the outbound payload a client emits after a message has
// been persisted.
type SendMessage struct {
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Text           string    `json:"text,omitempty"`
	Images         []string  `json:"images,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// GetMessage is the payload the relay delivers to the receiver.
type GetMessage struct {
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text,omitempty"`
	Images         []string  `json:"images,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Deliverable converts an inbound sendMessage into the payload forwarded to the receiver.
// A zero CreatedAt is stamped with now.
func (m SendMessage) Deliverable(now time.Time) GetMessage {
	created := m.CreatedAt
	if created.IsZero() {
		created = now
	}
	return GetMessage{
		SenderID:       m.SenderID,
		Text:           m.Text,
		Images:         m.Images,
		ConversationID: m.ConversationID,
		MessageID:      m.MessageID,
		CreatedAt:      created,
	}
}

// Arrival converts the payload into a domain arrival.
func (m GetMessage) Arrival() chat.Arrival {
	return chat.Arrival{
		SenderID:       m.SenderID,
		ConversationID: m.ConversationID,
		MessageID:      m.MessageID,
		Text:           m.Text,
		Images:         m.Images,
		CreatedAt:      m.CreatedAt,
	}
}

// ErrorPayload reports a rejected frame back to its sender.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
