// ABOUTME: Tests for the REST handlers using MockStore and httptest
// ABOUTME: Covers listing by role, idempotent create, message persistence, validation and auth

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halfattire/inbox/internal/auth"
	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/store"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	t       *testing.T
	store   *store.MockStore
	handler http.Handler
	token   string
}

func newTestAPI(t *testing.T, verifier *auth.JWTVerifier) *testAPI {
	t.Helper()
	s := store.NewMockStore()
	api := New(Config{Store: s, Verifier: verifier, Now: func() time.Time { return fixedNow }})
	return &testAPI{t: t, store: s, handler: api.Handler()}
}

func (ta *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	ta.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ta.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ta.token != "" {
		req.Header.Set("Authorization", "Bearer "+ta.token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ta *testAPI) seed(id, buyer, seller string) {
	ta.t.Helper()
	require.NoError(ta.t, ta.store.CreateConversation(context.Background(), &chat.Conversation{
		ID:        id,
		Members:   []string{buyer, seller},
		CreatedAt: fixedNow,
	}))
}

func TestCreateConversation_Idempotent(t *testing.T) {
	ta := newTestAPI(t, nil)

	rec := ta.do(http.MethodPost, "/conversation/create-new-conversation", CreateConversationRequest{UserID: "b1", SellerID: "s1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[ConversationResponse](t, rec).Conversation
	assert.Equal(t, []string{"b1", "s1"}, first.Members)
	assert.Equal(t, "b1s1", first.GroupTitle)
	assert.Nil(t, first.LastMessage)

	rec = ta.do(http.MethodPost, "/conversation/create-new-conversation", CreateConversationRequest{UserID: "b1", SellerID: "s1", GroupTitle: "ignored"})
	require.Equal(t, http.StatusOK, rec.Code)
	again := decodeBody[ConversationResponse](t, rec).Conversation
	assert.Equal(t, first.ID, again.ID)
}

func TestCreateConversation_Validation(t *testing.T) {
	ta := newTestAPI(t, nil)

	rec := ta.do(http.MethodPost, "/conversation/create-new-conversation", CreateConversationRequest{UserID: "b1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "sellerId is required")

	rec = ta.do(http.MethodPost, "/conversation/create-new-conversation", CreateConversationRequest{UserID: "x", SellerID: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "sellerId must differ")
}

func TestListConversations_ByRole(t *testing.T) {
	ta := newTestAPI(t, nil)
	ta.seed("c1", "b1", "s1")
	ta.seed("c2", "b1", "s2")
	ta.seed("c3", "b2", "s1")

	_, err := ta.store.UpdateLastMessage(context.Background(), "c2", "latest", "s2", fixedNow.Add(time.Hour))
	require.NoError(t, err)

	rec := ta.do(http.MethodGet, "/conversation/get-all-conversation-user/b1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decodeBody[ConversationsResponse](t, rec).Conversations
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[0].ID)
	assert.Equal(t, "c1", convs[1].ID)

	rec = ta.do(http.MethodGet, "/conversation/get-all-conversation-seller/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[ConversationsResponse](t, rec).Conversations, 2)

	// A buyer id on the seller endpoint matches nothing.
	rec = ta.do(http.MethodGet, "/conversation/get-all-conversation-seller/b1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversations":[]}`, rec.Body.String())
}

func TestCreateAndListMessages(t *testing.T) {
	ta := newTestAPI(t, nil)
	ta.seed("c1", "b1", "s1")

	rec := ta.do(http.MethodPost, "/message/create-new-message", CreateMessageRequest{Sender: "b1", Text: "Hello", ConversationID: "c1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decodeBody[MessageResponse](t, rec).Message
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "Hello", msg.Text)
	assert.True(t, fixedNow.Equal(msg.CreatedAt))

	rec = ta.do(http.MethodPost, "/message/create-new-message", CreateMessageRequest{Sender: "s1", ConversationID: "c1", Images: []string{"https://cdn/x.png"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ta.do(http.MethodGet, "/message/get-all-messages/c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decodeBody[MessagesResponse](t, rec).Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[0].Text)
	assert.Equal(t, []string{"https://cdn/x.png"}, msgs[1].Images)
}

func TestCreateMessage_Errors(t *testing.T) {
	ta := newTestAPI(t, nil)
	ta.seed("c1", "b1", "s1")

	tests := []struct {
		name string
		req  CreateMessageRequest
		code int
	}{
		{"empty", CreateMessageRequest{Sender: "b1", ConversationID: "c1", Text: "  "}, http.StatusBadRequest},
		{"missing sender", CreateMessageRequest{ConversationID: "c1", Text: "hi"}, http.StatusBadRequest},
		{"unknown conversation", CreateMessageRequest{Sender: "b1", ConversationID: "nope", Text: "hi"}, http.StatusNotFound},
		{"not a member", CreateMessageRequest{Sender: "intruder", ConversationID: "c1", Text: "hi"}, http.StatusForbidden},
		{"blank image", CreateMessageRequest{Sender: "b1", ConversationID: "c1", Images: []string{""}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ta.do(http.MethodPost, "/message/create-new-message", tt.req)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestCreateMessage_StoreFailure(t *testing.T) {
	ta := newTestAPI(t, nil)
	ta.seed("c1", "b1", "s1")
	ta.store.SaveErr = errors.New("disk full")

	rec := ta.do(http.MethodPost, "/message/create-new-message", CreateMessageRequest{Sender: "b1", Text: "hi", ConversationID: "c1"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestUpdateLastMessage(t *testing.T) {
	ta := newTestAPI(t, nil)
	ta.seed("c1", "b1", "s1")

	rec := ta.do(http.MethodPut, "/conversation/update-last-message/c1", UpdateLastMessageRequest{LastMessage: "see you", LastMessageID: "s1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	conv := decodeBody[ConversationResponse](t, rec).Conversation
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "see you", *conv.LastMessage)
	assert.Equal(t, "s1", conv.LastMessageID)
	require.NotNil(t, conv.LastMessageTime)
	assert.True(t, fixedNow.Equal(*conv.LastMessageTime))

	rec = ta.do(http.MethodPut, "/conversation/update-last-message/missing", UpdateLastMessageRequest{LastMessage: "x", LastMessageID: "s1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ta.do(http.MethodPut, "/conversation/update-last-message/c1", UpdateLastMessageRequest{LastMessage: "x", LastMessageID: "stranger"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListMessages_UnknownConversation(t *testing.T) {
	ta := newTestAPI(t, nil)
	rec := ta.do(http.MethodGet, "/message/get-all-messages/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	ta := newTestAPI(t, nil)
	rec := ta.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuth_Ownership(t *testing.T) {
	verifier, err := auth.NewJWTVerifier([]byte("httpapi-test-secret-of-32-bytes!"))
	require.NoError(t, err)

	ta := newTestAPI(t, verifier)
	ta.seed("c1", "b1", "s1")
	ta.seed("c2", "b2", "s2")

	// No token
	rec := ta.do(http.MethodGet, "/conversation/get-all-conversation-user/b1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays open
	rec = ta.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ta.token, err = verifier.Generate("b1", chat.RoleUser, time.Hour)
	require.NoError(t, err)

	rec = ta.do(http.MethodGet, "/conversation/get-all-conversation-user/b1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ta.do(http.MethodGet, "/conversation/get-all-conversation-user/b2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ta.do(http.MethodGet, "/message/get-all-messages/c2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ta.do(http.MethodPost, "/message/create-new-message", CreateMessageRequest{Sender: "s1", Text: "spoof", ConversationID: "c1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ta.do(http.MethodPost, "/message/create-new-message", CreateMessageRequest{Sender: "b1", Text: "mine", ConversationID: "c1"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ta.do(http.MethodPost, "/conversation/create-new-conversation", CreateConversationRequest{UserID: "b9", SellerID: "s9"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
