package internalauth

import (
	"context"
	"net/http"

	"github.com/jonwraymond/toolgate/envelope"
)

type contextKey struct{}

// WithClaims returns a context carrying c.
func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// ClaimsFromContext returns the verified claims of the current request.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(Claims)
	return c, ok
}

// Middleware is mounted by backends in front of their tool handlers. It
// verifies the Header token and rejects the request with a 401 error
// envelope when the token is missing, forged or stale.
func Middleware(s *Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := s.Verify(r.Header.Get(Header))
			if err != nil {
				envelope.WriteJSON(w, http.StatusUnauthorized, envelope.Fail(AsEnvelope(err)))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), c)))
		})
	}
}
