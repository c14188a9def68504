package proxy

import (
	"errors"

	"github.com/jonwraymond/toolgate/envelope"
)

// Sentinel errors for proxy construction.
var (
	ErrNilRouter   = errors.New("proxy: router is nil")
	ErrNilSigner   = errors.New("proxy: signer is nil")
	ErrNilCache    = errors.New("proxy: cursor store is nil")
	ErrShortSecret = errors.New("proxy: cursor secret must be at least 32 bytes")
)

// Sentinel errors for cursor handling. All surface as INVALID_CURSOR.
var (
	ErrCursorMalformed = errors.New("proxy: cursor malformed")
	ErrCursorSeal      = errors.New("proxy: cursor seal mismatch")
	ErrCursorExpired   = errors.New("proxy: cursor expired")
	ErrCursorMismatch  = errors.New("proxy: cursor issued for another tool or caller")
	ErrCursorUsed      = errors.New("proxy: cursor already used")
)

func cursorError(cause error) *envelope.Error {
	msg := "cursor is invalid"
	switch {
	case errors.Is(cause, ErrCursorExpired), errors.Is(cause, ErrCursorUsed):
		msg = "cursor was already used or has expired"
	case errors.Is(cause, ErrCursorMismatch):
		msg = "cursor belongs to a different tool or user"
	}
	return envelope.Wrap(envelope.CodeInvalidCursor, msg, cause).
		WithSuggestion("repeat the original list request without a cursor")
}
