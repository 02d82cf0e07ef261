// Package store provides persistence for inbox conversations and messages.
//
// # Overview
//
// The store package defines the Store interface and ships two
// implementations:
//
//   - SQLiteStore: production store backed by modernc.org/sqlite
//   - MockStore: in-memory store for tests, with failure injection
//
// # Conversations
//
// A conversation row stores its two members as buyer_id and seller_id. The
// pair is unique, so creating a conversation for an existing pair returns
// ErrDuplicateConversation and callers look the existing row up instead.
//
// The last-message columns are NULL until the first UpdateLastMessage call,
// which the REST layer issues after a message has been persisted.
//
// # Messages
//
// Messages are immutable. SaveMessage refuses to store a message for an
// unknown conversation (ErrNotFound) or one with neither text nor images
// (ErrEmptyMessage). ListMessages returns messages in created_at order.
//
// # Timestamps
//
// Timestamps are stored as fixed-width UTC strings so that ORDER BY on the
// text column matches chronological order.
package store
