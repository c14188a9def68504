// Package internalauth proves to backends that a call came from the gateway.
//
// A token is "{unixMillis}:{subject}:{role,role}" followed by "." and the
// lowercase hex HMAC-SHA256 of that payload under a secret shared with every
// backend. Tokens are minted per outbound call and accepted for a short
// window; a replay inside the window is tolerated.
package internalauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/toolgate/envelope"
)

// Header carries the token on gateway-to-backend requests.
const Header = "X-MCP-Internal-Token"

// Sentinel errors for token verification.
var (
	ErrMissingToken = errors.New("internalauth: missing token")
	ErrMalformed    = errors.New("internalauth: malformed token")
	ErrSignature    = errors.New("internalauth: signature mismatch")
	ErrStale        = errors.New("internalauth: token outside replay window")
	ErrShortSecret  = errors.New("internalauth: secret must be at least 32 bytes")
)

// Claims is what a verified token asserts.
type Claims struct {
	Subject  string
	Roles    []string
	IssuedAt time.Time
}

// Config configures a Signer.
type Config struct {
	// Secret is the shared HMAC key.
	Secret []byte

	// Window is how long a token stays valid.
	// Default: 30 seconds
	Window time.Duration

	// Skew tolerates tokens stamped slightly in the future.
	// Default: 2 seconds
	Skew time.Duration
}

// Signer mints and verifies internal tokens.
type Signer struct {
	secret []byte
	window time.Duration
	skew   time.Duration
	now    func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSigner creates a Signer.
func NewSigner(cfg Config, opts ...Option) (*Signer, error) {
	if len(cfg.Secret) < 32 {
		return nil, ErrShortSecret
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	if cfg.Skew <= 0 {
		cfg.Skew = 2 * time.Second
	}
	s := &Signer{
		secret: append([]byte(nil), cfg.Secret...),
		window: cfg.Window,
		skew:   cfg.Skew,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign returns a fresh token for subject and roles.
func (s *Signer) Sign(subject string, roles []string) string {
	payload := strconv.FormatInt(s.now().UnixMilli(), 10) + ":" + subject + ":" + strings.Join(roles, ",")
	return payload + "." + s.mac(payload)
}

// Verify checks the token's signature and age.
func (s *Signer) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrMissingToken
	}
	dot := strings.LastIndexByte(token, '.')
	if dot < 0 {
		return Claims{}, ErrMalformed
	}
	payload, sig := token[:dot], token[dot+1:]

	got, err := hex.DecodeString(sig)
	if err != nil {
		return Claims{}, ErrMalformed
	}
	want, _ := hex.DecodeString(s.mac(payload))
	if !hmac.Equal(got, want) {
		return Claims{}, ErrSignature
	}

	ts, rest, ok := strings.Cut(payload, ":")
	if !ok {
		return Claims{}, ErrMalformed
	}
	// Role names may not contain ':'; the subject is everything up to the last one.
	subject, roles, ok := cutLast(rest, ":")
	if !ok || subject == "" {
		return Claims{}, ErrMalformed
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Claims{}, ErrMalformed
	}

	issued := time.UnixMilli(ms)
	age := s.now().Sub(issued)
	if age > s.window || age < -s.skew {
		return Claims{}, ErrStale
	}

	c := Claims{Subject: subject, IssuedAt: issued, Roles: []string{}}
	if roles != "" {
		c.Roles = strings.Split(roles, ",")
	}
	return c, nil
}

func (s *Signer) mac(payload string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(payload))
	return hex.EncodeToString(m.Sum(nil))
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// AsEnvelope converts a verification error into its wire error.
func AsEnvelope(err error) *envelope.Error {
	if errors.Is(err, ErrMissingToken) {
		return envelope.Wrap(envelope.CodeMissingGatewayToken, "gateway token required", err)
	}
	return envelope.Wrap(envelope.CodeInvalidGatewayToken, "gateway token rejected", err)
}
