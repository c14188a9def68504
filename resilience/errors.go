package resilience

import (
	"context"
	"errors"
	"net"

	"github.com/jonwraymond/toolgate/envelope"
)

// Sentinel errors for resilience operations.
var (
	ErrCircuitOpen       = errors.New("resilience: circuit breaker is open")
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")
	ErrBulkheadFull      = errors.New("resilience: bulkhead at capacity")
	ErrTimeout           = errors.New("resilience: operation timed out")
)

// Transient reports whether err is worth retrying: timeouts, connection
// failures and errors already classified as BACKEND_UNAVAILABLE.
// Cancellation by the caller is never transient.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *envelope.Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// AsEnvelope converts a guard rejection or transient failure into its wire
// error. Other errors pass through envelope.FromError.
func AsEnvelope(backend string, err error) *envelope.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRateLimitExceeded):
		return envelope.Wrap(envelope.CodeRateLimited, "too many requests", err).
			WithSuggestion("wait a moment and retry")
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrBulkheadFull):
		return envelope.Wrap(envelope.CodeBackendUnavailable, backend+" is temporarily unavailable", err).
			WithSuggestion("retry later or tell the user the " + backend + " service is unavailable")
	case errors.Is(err, context.Canceled):
		return envelope.FromError(err)
	case Transient(err):
		var e *envelope.Error
		if errors.As(err, &e) {
			return e
		}
		return envelope.Wrap(envelope.CodeBackendUnavailable, backend+" did not respond", err).
			WithSuggestion("retry later or tell the user the " + backend + " service is unavailable")
	default:
		return envelope.FromError(err)
	}
}
