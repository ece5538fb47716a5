package api

import (
	"context"

	"healplus/cmd/internal/auth/session"
)

type identityKey struct{}

// WithIdentity returns ctx carrying verified access claims.
func WithIdentity(ctx context.Context, claims session.AccessClaims) context.Context {
	return context.WithValue(ctx, identityKey{}, claims)
}

// IdentityFromContext returns the claims set by Gateway, if the request was authenticated.
func IdentityFromContext(ctx context.Context) (session.AccessClaims, bool) {
	claims, ok := ctx.Value(identityKey{}).(session.AccessClaims)
	return claims, ok
}
