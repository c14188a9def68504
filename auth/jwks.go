package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// JWKSConfig configures the JWKS key provider.
type JWKSConfig struct {
	// URL is the issuer's JWKS endpoint.
	URL string

	// CacheTTL is how long fetched keys are trusted before a refresh.
	// Default: 1 hour
	CacheTTL time.Duration

	// MinRefreshInterval throttles refreshes triggered by unknown key ids.
	// Default: 30 seconds
	MinRefreshInterval time.Duration

	// HTTPClient is used for fetches.
	// Default: client with a 10s timeout
	HTTPClient *http.Client
}

// JWKSKeyProvider retrieves signing keys from the issuer's JWKS endpoint.
// Keys are cached; concurrent refreshes collapse into one fetch. When a
// refresh fails, previously fetched keys keep serving.
type JWKSKeyProvider struct {
	config JWKSConfig
	now    func() time.Time

	mu        sync.RWMutex
	keys      map[string]any
	fetchedAt time.Time
	attempted time.Time
	group     singleflight.Group
}

// NewJWKSKeyProvider creates a JWKS key provider.
func NewJWKSKeyProvider(config JWKSConfig) *JWKSKeyProvider {
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	if config.MinRefreshInterval <= 0 {
		config.MinRefreshInterval = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSKeyProvider{
		config: config,
		now:    time.Now,
		keys:   make(map[string]any),
	}
}

// GetKey returns the key with the given id. An empty id is accepted only when
// the key set holds exactly one key.
func (p *JWKSKeyProvider) GetKey(ctx context.Context, keyID string) (any, error) {
	p.mu.RLock()
	fresh := p.now().Sub(p.fetchedAt) < p.config.CacheTTL
	key := p.lookupLocked(keyID)
	throttled := p.now().Sub(p.attempted) < p.config.MinRefreshInterval
	p.mu.RUnlock()

	if key != nil && fresh {
		return key, nil
	}
	// Unknown kid on a fresh set: refresh at most once per interval.
	if fresh && throttled {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, keyID)
	}

	_, err, _ := p.group.Do("refresh", func() (any, error) {
		return nil, p.refresh(ctx)
	})

	p.mu.RLock()
	key = p.lookupLocked(keyID)
	p.mu.RUnlock()

	if key != nil {
		return key, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, keyID)
}

// Len returns the number of cached keys.
func (p *JWKSKeyProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys)
}

// Refresh fetches the key set now.
func (p *JWKSKeyProvider) Refresh(ctx context.Context) error {
	_, err, _ := p.group.Do("refresh", func() (any, error) {
		return nil, p.refresh(ctx)
	})
	return err
}

// lookupLocked finds a key by id. Caller must hold at least RLock.
func (p *JWKSKeyProvider) lookupLocked(keyID string) any {
	if keyID == "" {
		if len(p.keys) != 1 {
			return nil
		}
		for _, key := range p.keys {
			return key
		}
	}
	return p.keys[keyID]
}

func (p *JWKSKeyProvider) refresh(ctx context.Context) error {
	p.mu.Lock()
	p.attempted = p.now()
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return fmt.Errorf("auth: jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth: fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("auth: decode jwks: %w", err)
	}

	keys := make(map[string]any, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("auth: jwks at %s has no usable signing keys", p.config.URL)
	}

	p.mu.Lock()
	p.keys = keys
	p.fetchedAt = p.now()
	p.mu.Unlock()
	return nil
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (k jwk) publicKey() (any, error) {
	switch k.Kty {
	case "RSA":
		return parseRSAPublicKey(k)
	case "EC":
		return parseECPublicKey(k)
	default:
		return nil, fmt.Errorf("unsupported kty %q", k.Kty)
	}
}

func parseRSAPublicKey(k jwk) (*rsa.PublicKey, error) {
	n, err := decodeBigInt("n", k.N)
	if err != nil {
		return nil, err
	}
	e, err := decodeBigInt("e", k.E)
	if err != nil {
		return nil, err
	}
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, fmt.Errorf("invalid e parameter")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func parseECPublicKey(k jwk) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported crv %q", k.Crv)
	}
	x, err := decodeBigInt("x", k.X)
	if err != nil {
		return nil, err
	}
	y, err := decodeBigInt("y", k.Y)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func decodeBigInt(name, v string) (*big.Int, error) {
	if v == "" {
		return nil, fmt.Errorf("missing %s parameter", name)
	}
	b, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return new(big.Int).SetBytes(b), nil
}

var _ KeyProvider = (*JWKSKeyProvider)(nil)
