package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Cache is the shared key-value store used for cross-request gateway state.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use, including
//   across processes when backed by a shared store.
// - Atomicity: Take must delete and return in one step; of two concurrent
//   Take calls on the same key at most one observes ok=true.
// - Context: methods should honor cancellation/deadlines where applicable.
// - Errors: Get never errors; it returns (nil, false) on miss.
type Cache interface {
	// Get retrieves a value. Returns (nil, false) on miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with the given TTL, clamped by the policy. Zero
	// uses the policy's DefaultTTL; a negative TTL stores nothing.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value. Idempotent - no error on miss.
	Delete(ctx context.Context, key string) error

	// Take deletes the key if present and returns the value it held.
	Take(ctx context.Context, key string) ([]byte, bool, error)
}

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// Key joins a namespace and id into a cache key.
func Key(namespace, id string) string {
	return "toolgate:" + namespace + ":" + id
}
