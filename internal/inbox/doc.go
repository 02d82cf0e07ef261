// Package inbox is the client messaging core, parameterized by principal and role.
//
// An Inbox owns one session, one conversation directory, one thread
// reconciler and one dispatcher. Run consumes session events on a single
// goroutine; UI code calls the other methods from its own goroutine and
// re-reads state whenever Updates fires.
package inbox
