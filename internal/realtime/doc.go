// Package realtime defines the socket protocol shared by the relay and the
// client session, and the client-side websocket transport.
//
// Every frame is a JSON object {"event": name, "data": payload}:
//
//	addUser      client -> relay   principal id (string)
//	getUsers     relay  -> client  [{userId, socketId}]
//	sendMessage  client -> relay   {senderId, receiverId, text, images, conversationId, messageId, createdAt}
//	getMessage   relay  -> client  {senderId, text, images, conversationId, messageId, createdAt}
//	error        relay  -> client  {message}
//
// The conversationId and messageId fields are optional on the wire; peers that
// omit them are still delivered, and receivers fall back to sender/text
// matching for echo detection.
package realtime
