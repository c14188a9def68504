package proxy

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/toolgate/cache"
)

const cursorNamespace = "cursor"

// Cursor is the decoded form of a pagination cursor. Clients only ever see
// the sealed string.
type Cursor struct {
	Backend   string         `json:"b"`
	Tool      string         `json:"t"`
	Subject   string         `json:"s,omitempty"`
	Filters   map[string]any `json:"f,omitempty"`
	Offset    int            `json:"o"`
	Limit     int            `json:"l"`
	Nonce     string         `json:"n"`
	ExpiresAt int64          `json:"e"`
}

// CursorCodec seals cursors and enforces single use. The nonce of every
// issued cursor lives in the shared cache until it is redeemed or expires,
// so a cursor redeems at most once across all gateway instances.
type CursorCodec struct {
	secret []byte
	store  cache.Cache
	ttl    time.Duration
	now    func() time.Time
}

// NewCursorCodec creates a CursorCodec.
func NewCursorCodec(secret []byte, store cache.Cache, ttl time.Duration) (*CursorCodec, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	if store == nil {
		return nil, ErrNilCache
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CursorCodec{
		secret: append([]byte(nil), secret...),
		store:  store,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue registers a fresh nonce for c and returns the sealed cursor.
func (cc *CursorCodec) Issue(ctx context.Context, c Cursor) (string, error) {
	c.Nonce = uuid.NewString()
	c.ExpiresAt = cc.now().Add(cc.ttl).Unix()

	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("proxy: encode cursor: %w", err)
	}
	if err := cc.store.Set(ctx, cache.Key(cursorNamespace, c.Nonce), []byte(c.Backend+"."+c.Tool), cc.ttl); err != nil {
		return "", fmt.Errorf("proxy: store cursor: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + cc.seal(payload), nil
}

// Redeem opens token, checks it was issued to subject for backend.tool and
// consumes its nonce.
func (cc *CursorCodec) Redeem(ctx context.Context, token, backend, tool, subject string) (Cursor, error) {
	c, err := cc.open(token)
	if err != nil {
		return Cursor{}, err
	}
	if c.Backend != backend || c.Tool != tool || c.Subject != subject {
		return Cursor{}, ErrCursorMismatch
	}
	if cc.now().Unix() >= c.ExpiresAt {
		return Cursor{}, ErrCursorExpired
	}
	_, ok, err := cc.store.Take(ctx, cache.Key(cursorNamespace, c.Nonce))
	if err != nil {
		return Cursor{}, fmt.Errorf("proxy: consume cursor: %w", err)
	}
	if !ok {
		return Cursor{}, ErrCursorUsed
	}
	return c, nil
}

// Release makes a redeemed cursor usable again for the rest of its
// lifetime. The page it points at could not be fetched.
func (cc *CursorCodec) Release(ctx context.Context, c Cursor) error {
	ttl := time.Unix(c.ExpiresAt, 0).Sub(cc.now())
	if ttl <= 0 {
		return nil
	}
	if err := cc.store.Set(ctx, cache.Key(cursorNamespace, c.Nonce), []byte(c.Backend+"."+c.Tool), ttl); err != nil {
		return fmt.Errorf("proxy: release cursor: %w", err)
	}
	return nil
}

func (cc *CursorCodec) open(token string) (Cursor, error) {
	payload, mac, ok := strings.Cut(token, ".")
	if !ok || payload == "" || mac == "" {
		return Cursor{}, ErrCursorMalformed
	}
	if !hmac.Equal([]byte(mac), []byte(cc.seal(payload))) {
		return Cursor{}, ErrCursorSeal
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Cursor{}, ErrCursorMalformed
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, ErrCursorMalformed
	}
	if c.Nonce == "" || c.Limit <= 0 || c.Offset < 0 {
		return Cursor{}, ErrCursorMalformed
	}
	return c, nil
}

func (cc *CursorCodec) seal(payload string) string {
	h := hmac.New(sha256.New, cc.secret)
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
