package auth

import (
	"errors"

	"github.com/jonwraymond/toolgate/envelope"
)

// Sentinel errors for authentication.
var (
	ErrMissingCredentials = errors.New("auth: missing credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenMalformed     = errors.New("auth: token malformed")
	ErrTokenRevoked       = errors.New("auth: token revoked")
	ErrKeyNotFound        = errors.New("auth: signing key not found")
)

// reason returns the short machine-readable reason reported to clients.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return "MISSING_TOKEN"
	case errors.Is(err, ErrTokenExpired):
		return "TOKEN_EXPIRED"
	case errors.Is(err, ErrTokenMalformed):
		return "TOKEN_MALFORMED"
	case errors.Is(err, ErrTokenRevoked):
		return "TOKEN_REVOKED"
	default:
		return "INVALID_TOKEN"
	}
}

// authError wraps a sentinel in an AUTHENTICATION_ERROR envelope.
func authError(sentinel error) *envelope.Error {
	return envelope.Wrap(envelope.CodeAuthentication, reason(sentinel), sentinel).
		WithSuggestion("obtain a new access token and retry")
}
