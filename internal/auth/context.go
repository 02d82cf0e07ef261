// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/halfattire/inbox/internal/chat"
)

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	PrincipalID string
	Role        chat.Role // empty when the token carries no role
}

type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// Authorize reports whether ctx may act as principalID. Anonymous contexts
// are allowed when enforce is false, which is how the server runs without a
// configured secret.
func Authorize(ctx context.Context, principalID string, enforce bool) bool {
	a := FromContext(ctx)
	if a == nil {
		return !enforce
	}
	return a.PrincipalID == principalID
}
