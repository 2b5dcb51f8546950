package httpx

import (
	"context"

	"github.com/agromarket/marketgate/internal/guard"
	"github.com/agromarket/marketgate/internal/session"
)

type storeKey struct{}

func withStore(ctx context.Context, s *session.Store) context.Context {
	return context.WithValue(ctx, storeKey{}, s)
}

func storeFromContext(ctx context.Context) (*session.Store, bool) {
	s, ok := ctx.Value(storeKey{}).(*session.Store)
	return s, ok && s != nil
}

// validityKey is an unexported context key type to avoid collisions across packages.
type validityKey struct{}

// SetValidityInContext returns a child context carrying the session validity.
func SetValidityInContext(ctx context.Context, v guard.Validity) context.Context {
	return context.WithValue(ctx, validityKey{}, v)
}

// ValidityFromContext returns the validity placed by SessionContext or
// PageGuard, and whether one was present.
func ValidityFromContext(ctx context.Context) (guard.Validity, bool) {
	v, ok := ctx.Value(validityKey{}).(guard.Validity)
	return v, ok
}

// IsAuthenticated reports whether the request carries a valid session.
func IsAuthenticated(ctx context.Context) bool {
	v, ok := ValidityFromContext(ctx)
	return ok && v.Authenticated
}
