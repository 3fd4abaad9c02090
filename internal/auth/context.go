package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/rpattn/mapsync/internal/domain"
)

type contextKey string

const identityKey contextKey = "identity"

// ContextWithIdentity returns a new context carrying the authenticated user.
func ContextWithIdentity(ctx context.Context, identity domain.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext retrieves the authenticated user from the context, if any.
func IdentityFromContext(ctx context.Context) (domain.Actor, bool) {
	if ctx == nil {
		return domain.Actor{}, false
	}
	value := ctx.Value(identityKey)
	if value == nil {
		return domain.Actor{}, false
	}
	identity, ok := value.(domain.Actor)
	if !ok {
		return domain.Actor{}, false
	}
	if identity.UserID == uuid.Nil {
		return domain.Actor{}, false
	}
	return identity, true
}
