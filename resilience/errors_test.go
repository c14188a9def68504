package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jonwraymond/toolgate/envelope"
)

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", ErrTimeout, true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, false},
		{"dial failure", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"backend unavailable envelope", envelope.NewError(envelope.CodeBackendUnavailable, "down"), true},
		{"not found envelope", envelope.NewError(envelope.CodeNotFound, "no such employee"), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.want {
				t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAsEnvelope(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want envelope.Code
	}{
		{"rate limited", ErrRateLimitExceeded, envelope.CodeRateLimited},
		{"circuit open", ErrCircuitOpen, envelope.CodeBackendUnavailable},
		{"bulkhead full", ErrBulkheadFull, envelope.CodeBackendUnavailable},
		{"timeout", ErrTimeout, envelope.CodeBackendUnavailable},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("refused")}, envelope.CodeBackendUnavailable},
		{"structured passthrough", envelope.NewError(envelope.CodeValidation, "bad"), envelope.CodeValidation},
		{"raw", errors.New("secret detail"), envelope.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsEnvelope("hr", tt.err)
			if got.Code != tt.want {
				t.Errorf("AsEnvelope() code = %v, want %v", got.Code, tt.want)
			}
		})
	}

	if AsEnvelope("hr", nil) != nil {
		t.Error("AsEnvelope(nil) != nil")
	}
}
