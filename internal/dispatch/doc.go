// Package dispatch implements the send path of the inbox core.
//
// The order is fixed: validate, append a pending entry to the open thread,
// persist through REST, confirm the entry, emit sendMessage carrying the
// persisted id, update the conversation summary, refresh the directory.
package dispatch
