// Package chat defines the domain types shared by the inbox server and its
// clients.
//
// # Principals and Roles
//
// A principal is either a buyer (RoleUser) or a seller (RoleSeller). Both roles
// speak the same protocol; the role only selects which REST listing endpoint a
// client uses for its conversation directory.
//
// # Conversations
//
// A Conversation always has exactly two members, stored as an ordered pair
// (buyer first, seller second). The last-message fields are a summary kept by
// the persistence layer and are nil until the first message is sent.
//
// # Messages
//
// A Message belongs to exactly one conversation and is immutable once the
// persistence layer has assigned its ID and CreatedAt.
package chat
