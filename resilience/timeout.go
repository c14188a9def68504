package resilience

import (
	"context"
	"errors"
	"time"
)

// Timeout bounds each attempt of an operation.
type Timeout struct {
	d time.Duration
}

// NewTimeout creates a Timeout.
// Default: 10 seconds
func NewTimeout(d time.Duration) *Timeout {
	if d <= 0 {
		d = 10 * time.Second
	}
	return &Timeout{d: d}
}

// Duration returns the bound.
func (t *Timeout) Duration() time.Duration { return t.d }

// Execute runs op with a deadline. If op ignores its context the call still
// returns at the deadline; op keeps running in its goroutine and its result
// is dropped.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(ctx) }()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return ErrTimeout
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}
