package resilience

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonwraymond/toolgate/envelope"
)

// RateLimiterConfig configures a token bucket.
type RateLimiterConfig struct {
	// Rate is the sustained number of operations per second.
	// Default: 10
	Rate float64 `yaml:"rps"`

	// Burst is the bucket size.
	// Default: 20
	Burst int `yaml:"burst"`
}

func (c RateLimiterConfig) withDefaults() RateLimiterConfig {
	if c.Rate <= 0 {
		c.Rate = 10
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
	return c
}

// RateLimiter is a token bucket.
type RateLimiter struct {
	config RateLimiterConfig
	now    func() time.Time

	mu       sync.Mutex
	tokens   float64
	refilled time.Time
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return newRateLimiter(config.withDefaults(), time.Now)
}

func newRateLimiter(config RateLimiterConfig, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		config:   config,
		now:      now,
		tokens:   float64(config.Burst),
		refilled: now(),
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	ok, _ := rl.Reserve()
	return ok
}

// Reserve takes a token if one is available. Otherwise it reports how long
// until the next token.
func (rl *RateLimiter) Reserve() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	if rl.tokens >= 1 {
		rl.tokens--
		return true, 0
	}
	wait := time.Duration((1 - rl.tokens) / rl.config.Rate * float64(time.Second))
	return false, wait
}

// Execute runs op if a token is available.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if !rl.Allow() {
		return ErrRateLimitExceeded
	}
	return op(ctx)
}

// Tokens returns the tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

func (rl *RateLimiter) refillLocked() {
	now := rl.now()
	elapsed := now.Sub(rl.refilled)
	if elapsed <= 0 {
		return
	}
	rl.refilled = now
	rl.tokens = math.Min(float64(rl.config.Burst), rl.tokens+elapsed.Seconds()*rl.config.Rate)
}

func (rl *RateLimiter) lastUsed() time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.refilled
}

// KeyedRateLimiter keeps one bucket per key, typically the caller's subject.
// Buckets idle for longer than IdleTTL are evicted on the next sweep.
type KeyedRateLimiter struct {
	config  RateLimiterConfig
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*RateLimiter
	swept   time.Time
}

// KeyedOption configures a KeyedRateLimiter.
type KeyedOption func(*KeyedRateLimiter)

// WithIdleTTL sets how long an unused bucket is kept.
// Default: 10 minutes
func WithIdleTTL(d time.Duration) KeyedOption {
	return func(k *KeyedRateLimiter) {
		if d > 0 {
			k.idleTTL = d
		}
	}
}

// WithLimiterClock sets the time source.
func WithLimiterClock(now func() time.Time) KeyedOption {
	return func(k *KeyedRateLimiter) {
		if now != nil {
			k.now = now
		}
	}
}

// NewKeyedRateLimiter creates a KeyedRateLimiter.
func NewKeyedRateLimiter(config RateLimiterConfig, opts ...KeyedOption) *KeyedRateLimiter {
	k := &KeyedRateLimiter{
		config:  config.withDefaults(),
		idleTTL: 10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*RateLimiter),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.swept = k.now()
	return k
}

// Reserve takes a token from key's bucket.
func (k *KeyedRateLimiter) Reserve(key string) (bool, time.Duration) {
	return k.bucket(key).Reserve()
}

// Allow takes a token from key's bucket.
func (k *KeyedRateLimiter) Allow(key string) bool {
	ok, _ := k.Reserve(key)
	return ok
}

// Len returns the number of live buckets.
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *KeyedRateLimiter) bucket(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if now.Sub(k.swept) >= k.idleTTL {
		for name, b := range k.buckets {
			if now.Sub(b.lastUsed()) >= k.idleTTL {
				delete(k.buckets, name)
			}
		}
		k.swept = now
	}

	b, ok := k.buckets[key]
	if !ok {
		b = newRateLimiter(k.config, k.now)
		k.buckets[key] = b
	}
	return b
}

// Middleware rejects requests over the limit with a RATE_LIMITED envelope
// and a Retry-After header. Requests for which key returns "" pass through.
func (k *KeyedRateLimiter) Middleware(key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := key(r)
			if name == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, wait := k.Reserve(name)
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				envelope.WriteError(w, AsEnvelope("", ErrRateLimitExceeded))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
