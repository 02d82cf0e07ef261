// Package auth issues and verifies inbox bearer tokens.
//
// Tokens are HS256 JWTs whose "sub" claim is the principal id and whose
// optional "role" claim is "user" or "seller". The same token authenticates
// REST calls (Authorization: Bearer) and the realtime socket (bearer header or
// ?token= query parameter).
//
// Authentication is optional. When the server runs without a secret, requests
// pass through anonymously and handlers skip ownership checks.
//
// # Middleware
//
//	mw := auth.Middleware(verifier, logger)
//	mux.Handle("/conversation/", mw(handler))
//
// Handlers call Authorize to check that the authenticated principal is the one
// named in the request path or body.
package auth
