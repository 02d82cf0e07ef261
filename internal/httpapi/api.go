// ABOUTME: REST handlers for conversations and messages backed by the store
// ABOUTME: Validates bodies with go-playground/validator and enforces token ownership

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/halfattire/inbox/internal/auth"
	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/store"
)

const maxBodyBytes = 1 << 20

// CreateConversationRequest is the body of POST /conversation/create-new-conversation.
type CreateConversationRequest struct {
	GroupTitle string `json:"groupTitle"`
	UserID     string `json:"userId" validate:"required"`
	SellerID   string `json:"sellerId" validate:"required,nefield=UserID"`
}

// CreateMessageRequest is the body of POST /message/create-new-message.
type CreateMessageRequest struct {
	Sender         string   `json:"sender" validate:"required"`
	Text           string   `json:"text"`
	ConversationID string   `json:"conversationId" validate:"required"`
	Images         []string `json:"images" validate:"omitempty,max=10,dive,required"`
}

// UpdateLastMessageRequest is the body of PUT /conversation/update-last-message/{conversationId}.
type UpdateLastMessageRequest struct {
	LastMessage   string `json:"lastMessage"`
	LastMessageID string `json:"lastMessageId" validate:"required"`
}

// ConversationsResponse lists conversations.
type ConversationsResponse struct {
	Conversations []*chat.Conversation `json:"conversations"`
}

// ConversationResponse carries one conversation.
type ConversationResponse struct {
	Conversation *chat.Conversation `json:"conversation"`
}

// MessagesResponse lists messages.
type MessagesResponse struct {
	Messages []*chat.Message `json:"messages"`
}

// MessageResponse carries one message.
type MessageResponse struct {
	Message *chat.Message `json:"message"`
}

// Config configures the API.
type Config struct {
	Store store.Store
	// Verifier enables bearer token authentication when set.
	Verifier *auth.JWTVerifier
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// API serves the REST endpoints.
type API struct {
	store    store.Store
	verifier *auth.JWTVerifier
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// New creates the API.
func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &API{
		store:    cfg.Store,
		verifier: cfg.Verifier,
		validate: newValidator(),
		logger:   logger.With("component", "httpapi"),
		now:      now,
	}
}

// Register mounts the endpoints on mux.
func (a *API) Register(mux *http.ServeMux) {
	protect := func(h http.HandlerFunc) http.Handler { return h }
	if a.verifier != nil {
		mw := auth.Middleware(a.verifier, a.logger)
		protect = func(h http.HandlerFunc) http.Handler { return mw(h) }
	}

	mux.Handle("GET /conversation/get-all-conversation-user/{principalId}", protect(a.listConversations(chat.RoleUser)))
	mux.Handle("GET /conversation/get-all-conversation-seller/{principalId}", protect(a.listConversations(chat.RoleSeller)))
	mux.Handle("POST /conversation/create-new-conversation", protect(a.handleCreateConversation))
	mux.Handle("PUT /conversation/update-last-message/{conversationId}", protect(a.handleUpdateLastMessage))
	mux.Handle("GET /message/get-all-messages/{conversationId}", protect(a.handleListMessages))
	mux.Handle("POST /message/create-new-message", protect(a.handleCreateMessage))
	mux.HandleFunc("GET /health", a.handleHealth)
}

// Handler returns a mux with every endpoint registered.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.Register(mux)
	return mux
}

func (a *API) enforce() bool {
	return a.verifier != nil
}

// listConversations handles GET /conversation/get-all-conversation-{role}/{principalId}.
// The buyer is always the first member and the seller the second.
func (a *API) listConversations(role chat.Role) http.HandlerFunc {
	position := 0
	if role == chat.RoleSeller {
		position = 1
	}

	return func(w http.ResponseWriter, r *http.Request) {
		principalID := r.PathValue("principalId")
		if !auth.Authorize(r.Context(), principalID, a.enforce()) {
			a.sendJSONError(w, http.StatusForbidden, "cannot list another principal's conversations")
			return
		}

		convs, err := a.store.ListConversationsForMember(r.Context(), principalID)
		if err != nil {
			a.internalError(w, "failed to list conversations", err)
			return
		}

		convs = lo.Filter(convs, func(c *chat.Conversation, _ int) bool {
			return len(c.Members) == 2 && c.Members[position] == principalID
		})
		if convs == nil {
			convs = []*chat.Conversation{}
		}

		a.sendJSON(w, http.StatusOK, ConversationsResponse{Conversations: convs})
	}
}

// handleCreateConversation handles POST /conversation/create-new-conversation.
// Returns 201 for a new conversation and 200 with the existing one when the pair already has one.
func (a *API) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if !a.decode(w, r, &req) {
		return
	}

	if a.enforce() && !auth.Authorize(r.Context(), req.UserID, true) && !auth.Authorize(r.Context(), req.SellerID, true) {
		a.sendJSONError(w, http.StatusForbidden, "must be a member of the conversation")
		return
	}

	ctx := r.Context()
	existing, err := a.store.GetConversationByMembers(ctx, req.UserID, req.SellerID)
	if err == nil {
		a.sendJSON(w, http.StatusOK, ConversationResponse{Conversation: existing})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		a.internalError(w, "failed to look up conversation", err)
		return
	}

	title := req.GroupTitle
	if title == "" {
		title = req.UserID + req.SellerID
	}
	conv := &chat.Conversation{
		ID:         uuid.New().String(),
		GroupTitle: title,
		Members:    []string{req.UserID, req.SellerID},
		CreatedAt:  a.now().UTC(),
	}

	if err := a.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			// Lost a race with a concurrent create for the same pair.
			if existing, getErr := a.store.GetConversationByMembers(ctx, req.UserID, req.SellerID); getErr == nil {
				a.sendJSON(w, http.StatusOK, ConversationResponse{Conversation: existing})
				return
			}
		}
		if errors.Is(err, store.ErrInvalidMembers) {
			a.sendJSONError(w, http.StatusBadRequest, "a conversation needs two distinct members")
			return
		}
		a.internalError(w, "failed to create conversation", err)
		return
	}

	a.logger.Info("conversation created", "conversation", conv.ID, "buyer", req.UserID, "seller", req.SellerID)
	a.sendJSON(w, http.StatusCreated, ConversationResponse{Conversation: conv})
}

// handleUpdateLastMessage handles PUT /conversation/update-last-message/{conversationId}.
func (a *API) handleUpdateLastMessage(w http.ResponseWriter, r *http.Request) {
	var req UpdateLastMessageRequest
	if !a.decode(w, r, &req) {
		return
	}

	conv, ok := a.loadConversation(w, r.Context(), r.PathValue("conversationId"))
	if !ok {
		return
	}
	if !conv.HasMember(req.LastMessageID) {
		a.sendJSONError(w, http.StatusBadRequest, "lastMessageId must be a member of the conversation")
		return
	}
	if !auth.Authorize(r.Context(), req.LastMessageID, a.enforce()) {
		a.sendJSONError(w, http.StatusForbidden, "cannot update on behalf of another principal")
		return
	}

	updated, err := a.store.UpdateLastMessage(r.Context(), conv.ID, req.LastMessage, req.LastMessageID, a.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		a.internalError(w, "failed to update last message", err)
		return
	}

	a.sendJSON(w, http.StatusOK, ConversationResponse{Conversation: updated})
}

// handleListMessages handles GET /message/get-all-messages/{conversationId}.
func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := a.loadConversation(w, r.Context(), r.PathValue("conversationId"))
	if !ok {
		return
	}
	if !a.canRead(r.Context(), conv) {
		a.sendJSONError(w, http.StatusForbidden, "not a member of this conversation")
		return
	}

	msgs, err := a.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		a.internalError(w, "failed to list messages", err)
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}

	a.sendJSON(w, http.StatusOK, MessagesResponse{Messages: msgs})
}

// handleCreateMessage handles POST /message/create-new-message.
func (a *API) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req CreateMessageRequest
	if !a.decode(w, r, &req) {
		return
	}

	msg := &chat.Message{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		Sender:         req.Sender,
		Text:           req.Text,
		Images:         req.Images,
		CreatedAt:      a.now().UTC(),
	}
	if msg.Empty() {
		a.sendJSONError(w, http.StatusBadRequest, "text or images required")
		return
	}

	if !auth.Authorize(r.Context(), req.Sender, a.enforce()) {
		a.sendJSONError(w, http.StatusForbidden, "cannot send on behalf of another principal")
		return
	}

	conv, ok := a.loadConversation(w, r.Context(), req.ConversationID)
	if !ok {
		return
	}
	if !conv.HasMember(req.Sender) {
		a.sendJSONError(w, http.StatusForbidden, "sender is not a member of this conversation")
		return
	}

	if err := a.store.SaveMessage(r.Context(), msg); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			a.sendJSONError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, store.ErrEmptyMessage):
			a.sendJSONError(w, http.StatusBadRequest, "text or images required")
		default:
			a.internalError(w, "failed to save message", err)
		}
		return
	}

	a.logger.Debug("message saved", "conversation", msg.ConversationID, "message", msg.ID, "sender", msg.Sender)
	a.sendJSON(w, http.StatusCreated, MessageResponse{Message: msg})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// handleHealth handles GET /health.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := a.store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			a.logger.Warn("health check failed", "error", err)
			a.sendJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	a.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) canRead(ctx context.Context, conv *chat.Conversation) bool {
	authCtx := auth.FromContext(ctx)
	if authCtx == nil {
		return !a.enforce()
	}
	return conv.HasMember(authCtx.PrincipalID)
}

func (a *API) loadConversation(w http.ResponseWriter, ctx context.Context, id string) (*chat.Conversation, bool) {
	conv, err := a.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return nil, false
		}
		a.internalError(w, "failed to load conversation", err)
		return nil, false
	}
	return conv, true
}

// decode parses and validates a JSON body, writing a 400 on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names in error messages.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "nefield":
			return fe.Field() + " must differ from the other member"
		default:
			return fe.Field() + " is invalid"
		}
	})
	return strings.Join(msgs, "; ")
}

func (a *API) internalError(w http.ResponseWriter, msg string, err error) {
	a.logger.Error(msg, "error", err)
	a.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

// sendJSONError writes a JSON error response.
func (a *API) sendJSONError(w http.ResponseWriter, status int, message string) {
	a.sendJSON(w, status, map[string]string{"error": message})
}

func (a *API) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("failed to write response", "error", err)
	}
}
