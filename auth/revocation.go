package auth

import (
	"context"
	"time"

	"github.com/jonwraymond/toolgate/cache"
)

// Revocations is the shared set of revoked token ids (jti). Entries live
// until the token would have expired anyway.
type Revocations struct {
	store cache.Cache
	now   func() time.Time
}

// NewRevocations creates a revocation set on store.
func NewRevocations(store cache.Cache) *Revocations {
	return &Revocations{store: store, now: time.Now}
}

// Revoke marks jti revoked until expiresAt. Already expired tokens are
// ignored since verification rejects them regardless.
func (r *Revocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.store.Set(ctx, cache.Key("revoked", jti), []byte{1}, ttl)
}

// Revoked reports whether jti is in the set.
func (r *Revocations) Revoked(ctx context.Context, jti string) bool {
	_, ok := r.store.Get(ctx, cache.Key("revoked", jti))
	return ok
}
