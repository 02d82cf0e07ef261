// Package session owns a client's single realtime connection.
//
// A Manager dials the relay, announces its principal with addUser on every
// successful connect, and reconnects with jittered exponential backoff until
// its context is cancelled. Transport errors never surface as return values;
// they show up as Disconnected events and Connected() == false.
//
// Inbound frames are converted to typed events on Events(). Outbound frames go
// through Emit, the only writer to the connection, which fails fast with
// ErrNotConnected while offline.
//
// Presence answers (IsOnline, Online) come from the latest getUsers snapshot.
// The snapshot is eventually consistent: a peer that dropped stays online
// until the relay broadcasts the next snapshot.
package session
