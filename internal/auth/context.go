// ABOUTME: Request context carrying the authorized user id
// ABOUTME: Set by transport middleware once the allowlist check passes

package auth

import "context"

type userContextKey struct{}

// WithUser returns a new context carrying the authorized user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserFrom returns the authorized user id, or "" if none is attached.
func UserFrom(ctx context.Context) string {
	id, _ := ctx.Value(userContextKey{}).(string)
	return id
}
