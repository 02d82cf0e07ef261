// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/halfattire/inbox/internal/chat"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would otherwise get its own database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			group_title       TEXT NOT NULL DEFAULT '',
			buyer_id          TEXT NOT NULL,
			seller_id         TEXT NOT NULL,
			last_message      TEXT,
			last_message_id   TEXT NOT NULL DEFAULT '',
			last_message_time TEXT,
			created_at        TEXT NOT NULL,

			CHECK (buyer_id <> seller_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_members
			ON conversations(buyer_id, seller_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_buyer ON conversations(buyer_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_seller ON conversations(seller_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender          TEXT NOT NULL,
			text            TEXT NOT NULL DEFAULT '',
			images_json     TEXT,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateConversation inserts a conversation. Members[0] is stored as the buyer
// and Members[1] as the seller. Returns ErrDuplicateConversation if the pair
// already has a conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *chat.Conversation) error {
	if !conv.Valid() {
		return ErrInvalidMembers
	}

	query := `
		INSERT INTO conversations (id, group_title, buyer_id, seller_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.GroupTitle,
		conv.Members[0],
		conv.Members[1],
		formatTime(conv.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "buyer", conv.Members[0], "seller", conv.Members[1])
	return nil
}

const conversationColumns = `id, group_title, buyer_id, seller_id, last_message, last_message_id, last_message_time, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*chat.Conversation, error) {
	var (
		conv                chat.Conversation
		buyerID, sellerID   string
		lastMessage, lastAt sql.NullString
		createdAt           string
	)

	if err := row.Scan(
		&conv.ID,
		&conv.GroupTitle,
		&buyerID,
		&sellerID,
		&lastMessage,
		&conv.LastMessageID,
		&lastAt,
		&createdAt,
	); err != nil {
		return nil, err
	}

	conv.Members = []string{buyerID, sellerID}
	if lastMessage.Valid {
		text := lastMessage.String
		conv.LastMessage = &text
	}
	if lastAt.Valid {
		t, err := parseTime(lastAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_time: %w", err)
		}
		conv.LastMessageTime = &t
	}

	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.CreatedAt = t

	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// GetConversationByMembers retrieves the conversation between a buyer and a seller.
// Returns ErrNotFound if none exists.
func (s *SQLiteStore) GetConversationByMembers(ctx context.Context, buyerID, sellerID string) (*chat.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE buyer_id = ? AND seller_id = ?`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, buyerID, sellerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by members: %w", err)
	}
	return conv, nil
}

// ListConversationsForMember returns every conversation the principal belongs to,
// most recent activity first. Conversations without messages sort by creation time
// after those with messages.
func (s *SQLiteStore) ListConversationsForMember(ctx context.Context, principalID string) ([]*chat.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE buyer_id = ? OR seller_id = ?
		ORDER BY last_message_time IS NULL, last_message_time DESC, created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, principalID, principalID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*chat.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	return convs, nil
}

// UpdateLastMessage records the last-message summary of a conversation and
// returns the updated conversation. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) UpdateLastMessage(ctx context.Context, conversationID, lastMessage, lastMessageID string, at time.Time) (*chat.Conversation, error) {
	query := `
		UPDATE conversations
		SET last_message = ?, last_message_id = ?, last_message_time = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, lastMessage, lastMessageID, formatTime(at), conversationID)
	if err != nil {
		return nil, fmt.Errorf("updating last message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	s.logger.Debug("updated last message", "conversation_id", conversationID, "sender", lastMessageID)
	return s.GetConversation(ctx, conversationID)
}

// SaveMessage persists a message. Returns ErrNotFound if the conversation
// doesn't exist and ErrEmptyMessage if there is nothing to store.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *chat.Message) error {
	if msg.Empty() {
		return ErrEmptyMessage
	}

	var imagesJSON sql.NullString
	if len(msg.Images) > 0 {
		data, err := json.Marshal(msg.Images)
		if err != nil {
			return fmt.Errorf("encoding images: %w", err)
		}
		imagesJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender, text, images_json, created_at)
		SELECT ?, id, ?, ?, ?, ?
		FROM conversations WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.Sender,
		msg.Text,
		imagesJSON,
		formatTime(msg.CreatedAt),
		msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID)
	return nil
}

// ListMessages returns every message of a conversation in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	query := `
		SELECT id, conversation_id, sender, text, images_json, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*chat.Message
	for rows.Next() {
		var (
			msg        chat.Message
			imagesJSON sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Text, &imagesJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if imagesJSON.Valid && imagesJSON.String != "" {
			if err := json.Unmarshal([]byte(imagesJSON.String), &msg.Images); err != nil {
				return nil, fmt.Errorf("decoding images: %w", err)
			}
		}
		msg.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}
