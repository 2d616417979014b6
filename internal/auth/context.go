package auth

import (
	"context"

	"twentymin-coach/backend/internal/apperrors"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// WithIdentity returns a context carrying the authenticated identity.
// The lifecycle service reads it back via FromContext.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity from context and true if set; otherwise nil, false.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}

// Require returns the identity from context, or AUTH_REQUIRED when absent.
func Require(ctx context.Context) (*Identity, error) {
	id, ok := FromContext(ctx)
	if !ok || id == nil || id.UserID == "" {
		return nil, apperrors.AuthRequired("")
	}
	return id, nil
}
