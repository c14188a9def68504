package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonwraymond/toolgate/resilience"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingChecker(t *testing.T) {
	ok := NewPingChecker("redis", pingFunc(func(context.Context) error { return nil }))
	if r := ok.Check(context.Background()); r.Status != StatusHealthy {
		t.Errorf("Check() = %v, want healthy", r.Status)
	}

	cause := errors.New("connection refused")
	down := NewPingChecker("redis", pingFunc(func(context.Context) error { return cause }))
	r := down.Check(context.Background())
	if r.Status != StatusUnhealthy {
		t.Errorf("Check() = %v, want unhealthy", r.Status)
	}
	if !errors.Is(r.Error, ErrCheckFailed) || !errors.Is(r.Error, cause) {
		t.Errorf("Error = %v, want ErrCheckFailed wrapping cause", r.Error)
	}
}

func TestBackendChecker(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
		want Status
	}{
		{"healthy", http.StatusOK, `{"status":"healthy"}`, StatusHealthy},
		{"reports degraded", http.StatusOK, `{"status":"degraded"}`, StatusDegraded},
		{"server error", http.StatusInternalServerError, `{"status":"healthy"}`, StatusUnhealthy},
		{"not json", http.StatusOK, `OK`, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					http.NotFound(w, r)
					return
				}
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewBackendChecker("hr", srv.URL+"/", srv.Client())
			if c.Name() != "backend:hr" {
				t.Errorf("Name() = %q", c.Name())
			}
			if r := c.Check(context.Background()); r.Status != tt.want {
				t.Errorf("Check() = %v (%s), want %v", r.Status, r.Message, tt.want)
			}
		})
	}
}

func TestBackendChecker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	r := NewBackendChecker("hr", addr, nil).Check(context.Background())
	if r.Status != StatusUnhealthy || !errors.Is(r.Error, ErrCheckFailed) {
		t.Errorf("Check() = %+v, want unhealthy", r)
	}
}

type statesFunc func() map[string]resilience.State

func (f statesFunc) States() map[string]resilience.State { return f() }

func TestCircuitChecker(t *testing.T) {
	closed := NewCircuitChecker(statesFunc(func() map[string]resilience.State {
		return map[string]resilience.State{"hr": resilience.StateClosed}
	}))
	if r := closed.Check(context.Background()); r.Status != StatusHealthy {
		t.Errorf("Check() = %v, want healthy", r.Status)
	}

	tripped := NewCircuitChecker(statesFunc(func() map[string]resilience.State {
		return map[string]resilience.State{
			"hr":      resilience.StateClosed,
			"sales":   resilience.StateHalfOpen,
			"finance": resilience.StateOpen,
		}
	}))
	r := tripped.Check(context.Background())
	if r.Status != StatusDegraded {
		t.Errorf("Check() = %v, want degraded", r.Status)
	}
	if r.Message != "circuit not closed: finance, sales" {
		t.Errorf("Message = %q", r.Message)
	}
	if r.Details["finance"] != "open" {
		t.Errorf("Details = %v", r.Details)
	}
}
