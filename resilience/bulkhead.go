package resilience

import (
	"context"
	"sync/atomic"
	"time"
)

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	// MaxConcurrent is the number of calls allowed in flight.
	// Default: 16
	MaxConcurrent int

	// MaxWait is how long a call may queue for a slot.
	// Default: 0 (reject immediately)
	MaxWait time.Duration
}

// Bulkhead caps concurrent calls to one backend so a slow backend cannot
// absorb every gateway goroutine.
type Bulkhead struct {
	config BulkheadConfig
	sem    chan struct{}

	rejected atomic.Int64
}

// NewBulkhead creates a Bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 16
	}
	return &Bulkhead{config: config, sem: make(chan struct{}, config.MaxConcurrent)}
}

// Acquire takes a slot or returns ErrBulkheadFull.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
	}

	if b.config.MaxWait <= 0 {
		b.rejected.Add(1)
		return ErrBulkheadFull
	}

	timer := time.NewTimer(b.config.MaxWait)
	defer timer.Stop()

	select {
	case b.sem <- struct{}{}:
		return nil
	case <-timer.C:
		b.rejected.Add(1)
		return ErrBulkheadFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (b *Bulkhead) Release() {
	select {
	case <-b.sem:
	default:
	}
}

// Execute runs op while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return op(ctx)
}

// Active returns the number of slots in use.
func (b *Bulkhead) Active() int { return len(b.sem) }

// Rejected returns the number of calls turned away.
func (b *Bulkhead) Rejected() int64 { return b.rejected.Load() }
