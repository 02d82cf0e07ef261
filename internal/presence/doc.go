// Package presence tracks which principals currently hold a live realtime
// connection.
//
// The Registry is the relay's source of truth. A principal may hold several
// connections at once (two browser tabs); it stays online until the last one
// is removed. Snapshot returns one entry per principal, carrying its most
// recent connection, which is what the relay broadcasts as getUsers.
//
// RedisMirror optionally copies entries to Redis under TTL keys so external
// observers can query presence without talking to the relay.
package presence
