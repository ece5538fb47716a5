package api

import (
	"context"

	"healplus/cmd/identity"
	"healplus/cmd/internal/auth/session"
)

// IdentityResolver adapts an identity.Store to session.IdentityResolver.
type IdentityResolver struct {
	Users identity.Store
}

var _ session.IdentityResolver = IdentityResolver{}

// ResolveIdentity implements session.IdentityResolver.
func (r IdentityResolver) ResolveIdentity(ctx context.Context, userID string) (session.Identity, error) {
	u, err := r.Users.GetUserByID(ctx, userID)
	if identity.IsNotFound(err) {
		return session.Identity{}, session.ErrUnknownPrincipal
	}
	if err != nil {
		return session.Identity{}, err
	}
	return toIdentity(u), nil
}
