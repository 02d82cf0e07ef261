// Package httpapi serves the REST endpoints that persist conversations and
// messages.
//
// # Endpoints
//
//	GET  /conversation/get-all-conversation-user/{principalId}
//	GET  /conversation/get-all-conversation-seller/{principalId}
//	POST /conversation/create-new-conversation
//	PUT  /conversation/update-last-message/{conversationId}
//	GET  /message/get-all-messages/{conversationId}
//	POST /message/create-new-message
//	GET  /health
//
// Responses wrap their payload in a named field ({"conversations": [...]},
// {"message": {...}}). Errors are {"error": "..."} with a 4xx or 5xx status.
//
// With a verifier configured every endpoint except /health requires a bearer
// token, and the authenticated principal must be the one named in the path
// or body, or a member of the conversation being read.
package httpapi
