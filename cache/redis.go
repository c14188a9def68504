package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the connection to a shared Redis instance.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`

	// DialTimeout bounds the startup ping.
	// Default: 2 seconds
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DialRedis connects to Redis and verifies the connection with a ping.
func DialRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisCache implements Cache on top of go-redis. Take uses GETDEL, so the
// server serializes competing takes across gateway instances.
type RedisCache struct {
	client redis.UniversalClient
	policy Policy
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client redis.UniversalClient, policy Policy) *RedisCache {
	return &RedisCache{client: client, policy: policy}
}

// Get retrieves a value. Transport errors are reported as a miss.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set stores a value with the given TTL, clamped by the policy. Zero uses
// the policy's DefaultTTL; a negative TTL stores nothing.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl < 0 {
		return nil
	}
	ttl = r.policy.EffectiveTTL(ttl)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes a value. Idempotent - no error on miss.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Take atomically deletes the key and returns its previous value.
func (r *RedisCache) Take(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: take %q: %w", key, err)
	}
	return val, true, nil
}

// Ping reports whether the server is reachable.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Ensure RedisCache implements Cache
var _ Cache = (*RedisCache)(nil)
