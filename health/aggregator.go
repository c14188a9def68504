package health

import (
	"context"
	"sync"
	"time"
)

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Timeout bounds a full CheckAll run.
	// Default: 5 seconds
	Timeout time.Duration
}

type registration struct {
	checker  Checker
	optional bool
}

// Aggregator runs registered checks concurrently and folds them into one
// status. Failures of optional checks count as degraded.
type Aggregator struct {
	config AggregatorConfig
	now    func() time.Time

	mu     sync.RWMutex
	checks map[string]registration
	order  []string
}

// NewAggregator creates an Aggregator.
func NewAggregator(config AggregatorConfig) *Aggregator {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Aggregator{config: config, now: time.Now, checks: make(map[string]registration)}
}

// Register adds a check whose failure makes the gateway unhealthy.
func (a *Aggregator) Register(checker Checker) {
	a.register(checker, false)
}

// RegisterOptional adds a check whose failure only degrades the gateway.
func (a *Aggregator) RegisterOptional(checker Checker) {
	a.register(checker, true)
}

func (a *Aggregator) register(checker Checker, optional bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := checker.Name()
	if _, exists := a.checks[name]; !exists {
		a.order = append(a.order, name)
	}
	a.checks[name] = registration{checker: checker, optional: optional}
}

// Names returns check names in registration order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

// Check runs one named check.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	reg, ok := a.checks[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return a.run(ctx, reg), nil
}

// CheckAll runs every check concurrently.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	checks := make(map[string]registration, len(a.checks))
	for name, reg := range a.checks {
		checks[name] = reg
	}
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Result, len(checks))
	)
	for name, reg := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := a.run(ctx, reg)
			mu.Lock()
			results[name] = r
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Overall folds results into one status.
func Overall(results map[string]Result) Status {
	overall := StatusHealthy
	for _, r := range results {
		if r.Status > overall {
			overall = r.Status
		}
	}
	return overall
}

func (a *Aggregator) run(ctx context.Context, reg registration) Result {
	start := a.now()
	done := make(chan Result, 1)
	go func() { done <- reg.checker.Check(ctx) }()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = Unhealthy("check timed out", ErrCheckTimeout)
	}
	r.Duration = a.now().Sub(start)

	if reg.optional && r.Status == StatusUnhealthy {
		r.Status = StatusDegraded
	}
	return r
}
