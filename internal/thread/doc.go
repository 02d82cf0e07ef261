// Package thread reconciles the message history of the open conversation.
//
// A Reconciler moves Closed → Loading → Live. Opening a conversation always
// refetches its history; arrivals for that conversation that come in while
// the fetch is in flight are buffered and merged into the seed.
//
// Messages are identified by the id assigned at persistence time. Arrivals
// without an id fall back to a (sender, text) match inside a short window.
// After every mutation the thread is stably sorted by createdAt.
package thread
