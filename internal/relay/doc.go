// Package relay is the websocket pub/sub server that clients announce
// themselves to and exchange live messages through.
//
// The Hub owns a presence.Registry. Each connection gets one read goroutine
// (the HTTP handler) and one write goroutine draining a 64-frame buffer;
// frames for a full buffer are dropped and logged.
//
// Supported frames:
//
//	addUser      registers the connection for a principal, then broadcasts getUsers
//	sendMessage  forwards a getMessage to every connection of the receiver
//
// Disconnects remove the connection and broadcast getUsers again. The relay
// does not persist anything; history is owned by the REST API.
//
// With a Bus configured, messages for receivers that are not connected to
// this node are published for other nodes to deliver.
package relay
