package auth

import (
	"context"
	"net/http"
	"strings"
)

// Header names the edge gateway uses to forward the authenticated shopper.
const (
	DefaultIdentityHeader = "X-Identity-Key"
	DefaultEmailHeader    = "X-Identity-Email"
)

// AnonymousKey is the identity every request without a signed-in shopper maps to.
const AnonymousKey = "anonymous"

// Identity captures the shopper a request acts on behalf of. Baskets and
// checkout sessions are keyed by Key; Anonymous marks guests whose basket is
// merged into their account on sign-in.
type Identity struct {
	Key       string
	Email     string
	Anonymous bool
}

type contextKey string

const identityContextKey contextKey = "github.com/tradeyard/checkout-api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// IdentityKey returns the identity key for the request, falling back to the
// anonymous key when no identity was attached.
func IdentityKey(ctx context.Context) string {
	identity, ok := IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.Key) == "" {
		return AnonymousKey
	}
	return identity.Key
}

// IdentityMiddleware reads the gateway-forwarded identity headers and attaches
// the resulting identity to the request context. Requests without the header
// run as the anonymous shopper.
func IdentityMiddleware(identityHeader, emailHeader string) func(http.Handler) http.Handler {
	if strings.TrimSpace(identityHeader) == "" {
		identityHeader = DefaultIdentityHeader
	}
	if strings.TrimSpace(emailHeader) == "" {
		emailHeader = DefaultEmailHeader
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(identityHeader))
			identity := &Identity{
				Key:       key,
				Email:     strings.TrimSpace(r.Header.Get(emailHeader)),
				Anonymous: key == "" || strings.EqualFold(key, AnonymousKey),
			}
			if identity.Anonymous {
				identity.Key = AnonymousKey
			}
			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
