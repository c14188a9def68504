package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-memory cache implementation.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	policy  Policy
	now     func() time.Time
	swept   time.Time
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates a new in-memory cache with the given policy.
func NewMemoryCache(policy Policy, opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]*cacheEntry),
		policy:  policy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value from the cache. Returns (nil, false) on miss or expiry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.liveLocked(key)
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Set stores a value with the given TTL, clamped by the policy. Zero uses
// the policy's DefaultTTL; a negative TTL stores nothing.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl < 0 {
		return nil
	}
	ttl = c.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)
	c.entries[key] = &cacheEntry{
		value:     value,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// sweepInterval bounds how often Set scans for expired entries.
const sweepInterval = time.Minute

// sweepLocked drops expired entries at most once per sweepInterval, so keys
// that are never read again do not accumulate. Caller must hold mu.
func (c *MemoryCache) sweepLocked(now time.Time) {
	if now.Sub(c.swept) < sweepInterval {
		return
	}
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.swept = now
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Take removes the key and returns its value if it was live.
func (c *MemoryCache) Take(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.liveLocked(key)
	if !ok {
		return nil, false, nil
	}
	delete(c.entries, key)
	return entry.value, true, nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.entries {
		if _, ok := c.liveLocked(key); ok {
			n++
		}
	}
	return n
}

// liveLocked returns the entry if present and unexpired, dropping it lazily
// otherwise. Caller must hold mu.
func (c *MemoryCache) liveLocked(key string) (*cacheEntry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry, true
}

// Ensure MemoryCache implements Cache
var _ Cache = (*MemoryCache)(nil)
