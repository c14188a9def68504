package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifierConfig configures token verification.
type VerifierConfig struct {
	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string

	// Audience is the expected aud claim. Empty skips the check.
	Audience string

	// Leeway tolerates clock skew on exp, nbf and iat.
	// Default: 0
	Leeway time.Duration

	// Algorithms lists accepted signing methods.
	// Default: ["RS256"]
	Algorithms []string

	// UsernameClaim holds the human-readable username.
	// Default: "preferred_username"
	UsernameClaim string

	// OrganizationClaim holds the optional organization id.
	// Default: "organization_id"
	OrganizationClaim string
}

// KeyProvider retrieves signing keys for token validation.
type KeyProvider interface {
	// GetKey returns the key for the given key ID.
	GetKey(ctx context.Context, keyID string) (any, error)
}

// StaticKeyProvider serves a single fixed key. It backs HS256 development
// setups and tests.
type StaticKeyProvider struct {
	key any
}

// NewStaticKeyProvider creates a static key provider.
func NewStaticKeyProvider(key any) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

// GetKey returns the static key.
func (p *StaticKeyProvider) GetKey(_ context.Context, _ string) (any, error) {
	return p.key, nil
}

// Verifier validates bearer tokens and builds Principals.
//
// Verify is a function of the token, the clock and the issuer keys: it never
// retries and keeps no per-token state beyond the optional revocation set.
type Verifier struct {
	config      VerifierConfig
	keys        KeyProvider
	roles       RoleExtractor
	revocations *Revocations
	now         func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithRoleExtractor sets the role extraction strategy.
// Default: KeycloakRoleExtractor over every client.
func WithRoleExtractor(r RoleExtractor) VerifierOption {
	return func(v *Verifier) {
		if r != nil {
			v.roles = r
		}
	}
}

// WithRevocations rejects tokens whose jti is in the set.
func WithRevocations(r *Revocations) VerifierOption {
	return func(v *Verifier) { v.revocations = r }
}

// NewVerifier creates a Verifier.
func NewVerifier(config VerifierConfig, keys KeyProvider, opts ...VerifierOption) *Verifier {
	if len(config.Algorithms) == 0 {
		config.Algorithms = []string{"RS256"}
	}
	if config.UsernameClaim == "" {
		config.UsernameClaim = "preferred_username"
	}
	if config.OrganizationClaim == "" {
		config.OrganizationClaim = "organization_id"
	}

	v := &Verifier{
		config: config,
		keys:   keys,
		roles:  KeycloakRoleExtractor{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify validates the token and returns its principal. Every failure is an
// AUTHENTICATION_ERROR envelope error.
func (v *Verifier) Verify(ctx context.Context, token string) (*Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, authError(ErrMissingCredentials)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.config.Algorithms),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(v.config.Leeway),
		jwt.WithExpirationRequired(),
	}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.GetKey(ctx, kid)
	})
	if err != nil {
		return nil, authError(classify(err))
	}

	p := v.principal(claims)
	if p.Subject == "" {
		return nil, authError(fmt.Errorf("%w: missing sub", ErrInvalidToken))
	}
	if v.revocations != nil && p.TokenID != "" && v.revocations.Revoked(ctx, p.TokenID) {
		return nil, authError(ErrTokenRevoked)
	}
	return p, nil
}

// classify maps parser errors onto the package sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case errors.Is(err, ErrKeyNotFound):
		return fmt.Errorf("%w: %v", ErrKeyNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}

func (v *Verifier) principal(claims jwt.MapClaims) *Principal {
	p := &Principal{Roles: v.roles.Roles(claims)}

	p.Subject, _ = claims["sub"].(string)
	p.Username, _ = claims[v.config.UsernameClaim].(string)
	p.Email, _ = claims["email"].(string)
	p.OrganizationID, _ = claims[v.config.OrganizationClaim].(string)
	p.TokenID, _ = claims["jti"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	if p.Roles == nil {
		p.Roles = []string{}
	}
	return p
}

var _ KeyProvider = (*StaticKeyProvider)(nil)
