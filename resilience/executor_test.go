package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/toolgate/envelope"
)

func TestExecutor_NoGuards(t *testing.T) {
	e := NewExecutor()
	want := errors.New("boom")
	if err := e.Execute(context.Background(), fail(want)); !errors.Is(err, want) {
		t.Errorf("Execute() error = %v, want %v", err, want)
	}
	if e.CircuitBreaker() != nil {
		t.Error("CircuitBreaker() != nil without WithCircuitBreaker")
	}
}

func TestExecutor_RetryThenSucceed(t *testing.T) {
	e := NewExecutor(
		WithCircuitBreaker(NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 5})),
		WithRetry(NewRetry(RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond})),
		WithTimeout(time.Second),
	)

	var calls atomic.Int32
	err := e.Execute(context.Background(), func(context.Context) error {
		if calls.Add(1) == 1 {
			return ErrTimeout
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if s := e.CircuitBreaker().State(); s != StateClosed {
		t.Errorf("State() = %v, want closed", s)
	}
}

func TestExecutor_TimeoutPerAttempt(t *testing.T) {
	e := NewExecutor(
		WithRetry(NewRetry(RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond})),
		WithTimeout(10*time.Millisecond),
	)

	var calls atomic.Int32
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Execute() error = %v, want ErrTimeout", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want each attempt timed separately", calls.Load())
	}
}

func TestExecutor_ClientErrorNotRetried(t *testing.T) {
	e := NewExecutor(
		WithRetry(NewRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})),
	)

	var calls int
	err := e.Execute(context.Background(), func(context.Context) error {
		calls++
		return envelope.NewError(envelope.CodeNotFound, "no such employee")
	})
	if !errors.Is(err, envelope.ErrNotFound) {
		t.Errorf("Execute() error = %v, want NOT_FOUND", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestExecutor_RateLimiterOutermost(t *testing.T) {
	e := NewExecutor(
		WithRateLimiter(NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1})),
		WithCircuitBreaker(NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})),
	)

	_ = e.Execute(context.Background(), succeed)
	if err := e.Execute(context.Background(), fail(ErrTimeout)); !errors.Is(err, ErrRateLimitExceeded) {
		t.Fatalf("Execute() error = %v, want ErrRateLimitExceeded", err)
	}
	if s := e.CircuitBreaker().State(); s != StateClosed {
		t.Errorf("State() = %v, rejected call must not reach the breaker", s)
	}
}

func TestPool_IsolatesBackends(t *testing.T) {
	var transitions []string
	p := NewPool(BackendPolicy{
		MaxAttempts:  1,
		MaxFailures:  2,
		InitialDelay: time.Millisecond,
		Timeout:      time.Second,
		OnStateChange: func(backend string, from, to State) {
			transitions = append(transitions, backend+":"+from.String()+"->"+to.String())
		},
	})

	if p.Get("hr") != p.Get("hr") {
		t.Fatal("Get() returned a different executor for the same backend")
	}

	for i := 0; i < 2; i++ {
		_ = p.Get("hr").Execute(context.Background(), fail(ErrTimeout))
	}
	if err := p.Get("hr").Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("hr Execute() error = %v, want ErrCircuitOpen", err)
	}
	if err := p.Get("finance").Execute(context.Background(), succeed); err != nil {
		t.Errorf("finance Execute() error = %v, want isolation from hr", err)
	}

	states := p.States()
	if states["hr"] != StateOpen || states["finance"] != StateClosed {
		t.Errorf("States() = %v", states)
	}
	if len(transitions) != 1 || transitions[0] != "hr:closed->open" {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestPool_RateLimitPerBackend(t *testing.T) {
	p := NewPool(BackendPolicy{
		MaxAttempts: 1,
		Timeout:     time.Second,
		RateLimit:   RateLimiterConfig{Rate: 0.001, Burst: 1},
	})

	if err := p.Get("hr").Execute(context.Background(), succeed); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	if err := p.Get("hr").Execute(context.Background(), succeed); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("second Execute() error = %v, want ErrRateLimitExceeded", err)
	}
	if err := p.Get("finance").Execute(context.Background(), succeed); err != nil {
		t.Errorf("finance Execute() error = %v, want its own bucket", err)
	}
}
