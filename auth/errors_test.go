package auth

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jonwraymond/toolgate/envelope"
)

func TestAuthError(t *testing.T) {
	tests := []struct {
		sentinel error
		message  string
	}{
		{ErrMissingCredentials, "MISSING_TOKEN"},
		{ErrTokenExpired, "TOKEN_EXPIRED"},
		{ErrTokenMalformed, "TOKEN_MALFORMED"},
		{ErrTokenRevoked, "TOKEN_REVOKED"},
		{ErrInvalidToken, "INVALID_TOKEN"},
		{ErrKeyNotFound, "INVALID_TOKEN"},
		{fmt.Errorf("%w: kid abc", ErrKeyNotFound), "INVALID_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			err := authError(tt.sentinel)
			if err.Code != envelope.CodeAuthentication {
				t.Errorf("Code = %v, want %v", err.Code, envelope.CodeAuthentication)
			}
			if err.Message != tt.message {
				t.Errorf("Message = %q, want %q", err.Message, tt.message)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(err, %v) = false", tt.sentinel)
			}
			if !errors.Is(err, envelope.ErrAuthentication) {
				t.Error("errors.Is(err, envelope.ErrAuthentication) = false")
			}
			if err.Retryable() {
				t.Error("authentication errors must not be retryable")
			}
		})
	}
}
