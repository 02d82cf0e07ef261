// ABOUTME: HTTP client for the inbox REST API with per-request timeouts
// ABOUTME: Used by the directory, thread reconciler and dispatch components

package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/halfattire/inbox/internal/chat"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 10 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is a StatusError with the given status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Token, when set, is sent as a bearer Authorization header.
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the inbox REST API.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: timeout,
		http:    hc,
		logger:  logger.With("component", "restclient"),
	}
}

// CreateMessageInput is the payload of CreateMessage.
type CreateMessageInput struct {
	Sender         string   `json:"sender"`
	Text           string   `json:"text,omitempty"`
	ConversationID string   `json:"conversationId"`
	Images         []string `json:"images,omitempty"`
}

// ListConversations fetches the conversations principalID takes part in as role.
func (c *Client) ListConversations(ctx context.Context, role chat.Role, principalID string) ([]*chat.Conversation, error) {
	if !role.Valid() {
		return nil, chat.ErrInvalidRole
	}
	var resp struct {
		Conversations []*chat.Conversation `json:"conversations"`
	}
	path := "/conversation/get-all-conversation-" + string(role) + "/" + url.PathEscape(principalID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return resp.Conversations, nil
}

// CreateConversation opens (or returns the existing) conversation between a
// buyer and a seller. created is false when the pair already had one.
func (c *Client) CreateConversation(ctx context.Context, groupTitle, userID, sellerID string) (conv *chat.Conversation, created bool, err error) {
	body := map[string]string{"groupTitle": groupTitle, "userId": userID, "sellerId": sellerID}
	var resp struct {
		Conversation *chat.Conversation `json:"conversation"`
	}
	status, err := c.doStatus(ctx, http.MethodPost, "/conversation/create-new-conversation", body, &resp)
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	return resp.Conversation, status == http.StatusCreated, nil
}

// ListMessages fetches a conversation's history, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	var resp struct {
		Messages []*chat.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/message/get-all-messages/"+url.PathEscape(conversationID), nil, &resp); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return resp.Messages, nil
}

// CreateMessage persists a message and returns it with its server id and timestamp.
func (c *Client) CreateMessage(ctx context.Context, in CreateMessageInput) (*chat.Message, error) {
	var resp struct {
		Message *chat.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/message/create-new-message", in, &resp); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if resp.Message == nil {
		return nil, errors.New("create message: empty response")
	}
	return resp.Message, nil
}

// UpdateLastMessage records the conversation's last message summary.
func (c *Client) UpdateLastMessage(ctx context.Context, conversationID, lastMessage, lastMessageID string) (*chat.Conversation, error) {
	body := map[string]string{"lastMessage": lastMessage, "lastMessageId": lastMessageID}
	var resp struct {
		Conversation *chat.Conversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPut, "/conversation/update-last-message/"+url.PathEscape(conversationID), body, &resp); err != nil {
		return nil, fmt.Errorf("update last message: %w", err)
	}
	return resp.Conversation, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.doStatus(ctx, method, path, body, out)
	return err
}

func (c *Client) doStatus(ctx context.Context, method, path string, body, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	c.logger.Debug("request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(data, &errBody) != nil || errBody.Error == "" {
			errBody.Error = strings.TrimSpace(string(data))
		}
		return resp.StatusCode, &StatusError{Status: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, nil
}
