// ABOUTME: Tests for the realtime frame codec and payload conversions
// ABOUTME: Pins the wire field names other clients depend on

package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfattire/inbox/internal/chat"
)

func TestNewFrame_AddUser(t *testing.T) {
	f, err := NewFrame(EventAddUser, "buyer-1")
	require.NoError(t, err)

	raw, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"addUser","data":"buyer-1"}`, string(raw))
}

func TestFrame_DecodeGetUsers(t *testing.T) {
	var f Frame
	require.NoError(t, json.Unmarshal([]byte(`{"event":"getUsers","data":[{"userId":"s1","socketId":"x"}]}`), &f))

	var users []chat.PresenceEntry
	require.NoError(t, f.Decode(&users))
	assert.Equal(t, []chat.PresenceEntry{{PrincipalID: "s1", ConnectionID: "x"}}, users)
}

func TestFrame_DecodeEmpty(t *testing.T) {
	var v string
	err := Frame{Event: EventAddUser}.Decode(&v)
	assert.Error(t, err)
}

func TestSendMessage_WireNames(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f, err := NewFrame(EventSendMessage, SendMessage{
		SenderID:       "b1",
		ReceiverID:     "s1",
		Text:           "Hello",
		ConversationID: "c1",
		MessageID:      "m1",
		CreatedAt:      created,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"senderId":"b1","receiverId":"s1","text":"Hello","conversationId":"c1","messageId":"m1","createdAt":"2026-03-01T12:00:00Z"}`, string(f.Data))
}

func TestDeliverable_StampsMissingTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := SendMessage{SenderID: "b1", ReceiverID: "s1", Text: "hi"}

	got := msg.Deliverable(now)
	assert.Equal(t, now, got.CreatedAt)
	assert.Equal(t, "b1", got.SenderID)

	arrival := got.Arrival()
	assert.Equal(t, "hi", arrival.Text)
	assert.Empty(t, arrival.MessageID)
}
