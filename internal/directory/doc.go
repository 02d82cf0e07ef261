// Package directory keeps the conversation list shown in a client's inbox.
//
// Every refresh refetches the full list; there is no incremental merge of
// server results. Refreshes happen when the inbox starts, after every
// reconnect, after every send and after every arrival.
package directory
