package resilience

import (
	"sort"
	"sync"
	"time"
)

// BackendPolicy configures the guards applied to every backend call.
type BackendPolicy struct {
	// Timeout bounds each attempt.
	// Default: 10 seconds
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts counts the first call.
	// Default: 2
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the backoff before the retry.
	// Default: 200ms
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxFailures opens a backend's circuit.
	// Default: 5
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open circuit waits before probing.
	// Default: 30 seconds
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// MaxConcurrent caps in-flight calls per backend.
	// Default: 16
	MaxConcurrent int `yaml:"max_concurrent"`

	// RateLimit caps outbound calls per backend. Zero rps disables it.
	RateLimit RateLimiterConfig `yaml:"rate_limit"`

	// OnStateChange observes circuit transitions.
	OnStateChange func(backend string, from, to State) `yaml:"-"`
}

// Pool lazily builds one Executor per backend so failures of one backend
// never trip another's circuit.
type Pool struct {
	policy BackendPolicy

	mu        sync.Mutex
	executors map[string]*Executor
}

// NewPool creates a Pool.
func NewPool(policy BackendPolicy) *Pool {
	return &Pool{policy: policy, executors: make(map[string]*Executor)}
}

// Get returns the Executor for backend.
func (p *Pool) Get(backend string) *Executor {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.executors[backend]; ok {
		return e
	}
	opts := []ExecutorOption{
		WithBulkhead(NewBulkhead(BulkheadConfig{MaxConcurrent: p.policy.MaxConcurrent})),
		WithCircuitBreaker(NewCircuitBreaker(CircuitBreakerConfig{
			Name:          backend,
			MaxFailures:   p.policy.MaxFailures,
			ResetTimeout:  p.policy.ResetTimeout,
			OnStateChange: p.policy.OnStateChange,
		})),
		WithRetry(NewRetry(RetryConfig{
			MaxAttempts:  p.policy.MaxAttempts,
			InitialDelay: p.policy.InitialDelay,
			Jitter:       true,
		})),
		WithTimeout(p.policy.Timeout),
	}
	if p.policy.RateLimit.Rate > 0 {
		opts = append(opts, WithRateLimiter(NewRateLimiter(p.policy.RateLimit)))
	}
	e := NewExecutor(opts...)
	p.executors[backend] = e
	return e
}

// States returns the circuit state of every backend called so far.
func (p *Pool) States() map[string]State {
	p.mu.Lock()
	names := make([]string, 0, len(p.executors))
	for name := range p.executors {
		names = append(names, name)
	}
	p.mu.Unlock()
	sort.Strings(names)

	out := make(map[string]State, len(names))
	for _, name := range names {
		out[name] = p.Get(name).CircuitBreaker().State()
	}
	return out
}
