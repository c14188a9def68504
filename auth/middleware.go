package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/jonwraymond/toolgate/envelope"
)

// TokenVerifier turns a raw bearer token into a Principal.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

type middlewareConfig struct {
	queryParam string
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// AllowQueryToken also accepts the token from the named query parameter.
// Browsers opening an EventSource cannot set headers, so streaming routes
// use this.
func AllowQueryToken(param string) MiddlewareOption {
	return func(c *middlewareConfig) { c.queryParam = param }
}

// Middleware authenticates every request with v and stores the Principal in
// the request context. Failures are answered with an AUTHENTICATION_ERROR
// envelope and status 401.
//
// Usage:
//
//	r.With(auth.Middleware(verifier)).Post("/api/tools/{backend}/{tool}", h)
func Middleware(v TokenVerifier, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var cfg middlewareConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" && cfg.queryParam != "" {
				token = r.URL.Query().Get(cfg.queryParam)
			}
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="toolgate"`)
				envelope.WriteError(w, authError(ErrMissingCredentials))
				return
			}

			p, err := v.Verify(r.Context(), token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="toolgate", error="invalid_token"`)
				envelope.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

var _ TokenVerifier = (*Verifier)(nil)
