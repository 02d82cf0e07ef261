// Package restclient is the client side of the inbox REST API.
//
// Every call runs under its own timeout (10s by default) derived from the
// caller's context. Non-2xx responses are returned as *StatusError so callers
// can branch on the HTTP status with errors.As.
package restclient
