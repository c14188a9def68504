package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryCache_Lifecycle(t *testing.T) {
	c := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()
	key := Key("confirm", "c1")

	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("Get() on empty cache ok = true")
	}
	if err := c.Set(ctx, key, []byte(`{"state":"pending"}`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, ok := c.Get(ctx, key); !ok || string(got) != `{"state":"pending"}` {
		t.Errorf("Get() = (%q, %v)", got, ok)
	}
	if err := c.Set(ctx, key, []byte(`{"state":"approved"}`), time.Minute); err != nil {
		t.Fatalf("overwrite Set() error = %v", err)
	}
	if got, _ := c.Get(ctx, key); string(got) != `{"state":"approved"}` {
		t.Errorf("Get() after overwrite = %q", got)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := c.Get(ctx, key); ok {
		t.Error("Get() after Delete ok = true")
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Errorf("Delete() of a missing key error = %v", err)
	}
}

func TestMemoryCache_TTLEdges(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewMemoryCache(DefaultPolicy(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := c.Set(ctx, "expired", []byte("v"), -time.Second); err != nil {
		t.Fatalf("Set(negative ttl) error = %v", err)
	}
	if _, ok := c.Get(ctx, "expired"); ok {
		t.Error("Get() after Set(negative ttl) ok = true")
	}

	if err := c.Set(ctx, "default", []byte("v"), 0); err != nil {
		t.Fatalf("Set(0) error = %v", err)
	}
	if _, ok := c.Get(ctx, "default"); !ok {
		t.Fatal("Get() after Set(0) ok = false, want the policy default TTL")
	}
	now = now.Add(DefaultPolicy().DefaultTTL)
	if _, ok := c.Get(ctx, "default"); ok {
		t.Error("Get() after DefaultTTL ok = true")
	}

	none := NewMemoryCache(Policy{})
	if err := none.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set(0) without DefaultTTL error = %v", err)
	}
	if _, ok := none.Get(ctx, "k"); ok {
		t.Error("Get() after Set(0) without DefaultTTL ok = true")
	}
}

func TestMemoryCache_SetSweepsExpiredEntries(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewMemoryCache(DefaultPolicy(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := c.Set(ctx, key, []byte("v"), time.Second); err != nil {
			t.Fatalf("Set(%q) error = %v", key, err)
		}
	}

	now = now.Add(2 * sweepInterval)
	if err := c.Set(ctx, "d", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	if n != 1 {
		t.Errorf("stored entries = %d, want 1", n)
	}
}

func TestMemoryCache_Take(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := cache.Take(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Take() = (%q, %v, %v), want value", got, ok, err)
	}
	if string(got) != "v" {
		t.Errorf("Take() = %q, want %q", got, "v")
	}

	if _, ok, _ := cache.Take(ctx, "k"); ok {
		t.Error("second Take() ok = true, want false")
	}
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("Get after Take should return ok=false")
	}
}

func TestMemoryCache_TakeSingleWinner(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()
	_ = cache.Set(ctx, "once", []byte("x"), time.Minute)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := cache.Take(ctx, "once"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Take winners = %d, want 1", wins)
	}
}

func TestMemoryCache_WithClock(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(DefaultPolicy(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), 10*time.Minute)

	now = now.Add(10*time.Minute - time.Nanosecond)
	if _, ok := cache.Get(ctx, "k"); !ok {
		t.Error("Get before expiry should return ok=true")
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}

	now = now.Add(time.Nanosecond)
	if _, ok, _ := cache.Take(ctx, "k"); ok {
		t.Error("Take at expiry should return ok=false")
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, want 0", cache.Len())
	}
}

func TestMemoryCache_PolicyClampsTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(Policy{DefaultTTL: time.Minute, MaxTTL: 2 * time.Minute},
		WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), time.Hour)
	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("entry outlived MaxTTL")
	}
}

func TestMemoryCache_SetInvalidKey(t *testing.T) {
	cache := NewMemoryCache(DefaultPolicy())
	if err := cache.Set(context.Background(), "", []byte("v"), time.Minute); err != ErrInvalidKey {
		t.Errorf("Set(\"\") = %v, want %v", err, ErrInvalidKey)
	}
}
