package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/toolgate/cache"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/resilience"
	"github.com/jonwraymond/toolgate/routing"
	"github.com/jonwraymond/toolgate/secret"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete gateway configuration.
type Config struct {
	Server     ServerConfig             `yaml:"server"`
	Identity   IdentityConfig           `yaml:"identity"`
	Internal   InternalConfig           `yaml:"internal"`
	Routing    routing.Config           `yaml:"routing"`
	Resilience resilience.BackendPolicy `yaml:"resilience"`
	Proxy      ProxyConfig              `yaml:"proxy"`
	Confirm    ConfirmConfig            `yaml:"confirm"`
	Defense    DefenseConfig            `yaml:"defense"`
	Model      ModelConfig              `yaml:"model"`

	// Redis holds shared state. An empty addr keeps state in process memory,
	// which is only correct for a single gateway instance.
	Redis   cache.RedisConfig `yaml:"redis"`
	Observe observe.Config    `yaml:"observe"`

	// Secrets configures secret providers by name.
	Secrets map[string]map[string]any `yaml:"secrets"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Default: ":8080"
	Addr string `yaml:"addr"`

	// Default: 10s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit bounds requests per authenticated subject.
	RateLimit resilience.RateLimiterConfig `yaml:"rate_limit"`

	// AllowedOrigins enables CORS for browser clients.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// IdentityConfig configures caller token verification.
type IdentityConfig struct {
	// JWKSURL is the issuer's key set. Required unless HMACKey is set.
	JWKSURL string `yaml:"jwks_url"`

	// Issuer and Audience must match the token's iss and aud. Both are
	// required with JWKSURL; HS256 development setups may leave them empty.
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	// ClientID limits resource_access role extraction to one client.
	// Required with JWKSURL unless RoleClaim is set.
	ClientID string `yaml:"client_id"`

	// RoleClaim switches to flat-claim role extraction when set.
	RoleClaim string `yaml:"role_claim"`

	// Default: 0
	Leeway time.Duration `yaml:"leeway"`

	// Default: ["RS256"], or ["HS256"] with HMACKey
	Algorithms []string `yaml:"algorithms"`

	// Default: 1h
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl"`

	// HMACKey enables HS256 development tokens instead of JWKS.
	HMACKey string `yaml:"hmac_key"`
}

// InternalConfig configures gateway-to-backend tokens.
type InternalConfig struct {
	// Secret is shared with every backend; at least 32 bytes.
	Secret string `yaml:"secret"`

	// Default: 30s
	Window time.Duration `yaml:"window"`
}

// ProxyConfig configures result pagination.
type ProxyConfig struct {
	// Default: 50
	PageSize int `yaml:"page_size"`

	// Default: 200
	MaxPageSize int `yaml:"max_page_size"`

	// MaxAggregatePages caps list-everything requests.
	// Default: 10
	MaxAggregatePages int `yaml:"max_aggregate_pages"`

	// Default: 15m
	CursorTTL time.Duration `yaml:"cursor_ttl"`

	// CursorSecret seals cursors.
	// Default: internal.secret
	CursorSecret string `yaml:"cursor_secret"`
}

// ConfirmConfig configures pending confirmations.
type ConfirmConfig struct {
	// Default: 5m
	TTL time.Duration `yaml:"ttl"`

	// TombstoneTTL is how long an expired id is remembered.
	// Default: 1h
	TombstoneTTL time.Duration `yaml:"tombstone_ttl"`
}

// DefenseConfig configures injection scanning and field masking.
type DefenseConfig struct {
	// Mode is block or sanitize.
	// Default: "block"
	Mode string `yaml:"mode"`

	// Patterns are extra injection regular expressions.
	Patterns []string `yaml:"patterns"`

	// MaskFields are extra field names to mask.
	MaskFields []string `yaml:"mask_fields"`

	// UnmaskRoles may see masked fields.
	// Default: ["hr-write", "finance-write", "executive"]
	UnmaskRoles []string `yaml:"unmask_roles"`
}

// ModelConfig configures the OpenAI-compatible model endpoint.
type ModelConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// Default: "gpt-4o-mini"
	Model string `yaml:"model"`

	// Default: 5
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// Default: 2m
	MaxGenerationDuration time.Duration `yaml:"max_generation_duration"`

	SystemPrompt string `yaml:"system_prompt"`
}

// Load reads, resolves, defaults and validates the file at path.
func Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(ctx, data)
}

// Parse is Load for in-memory YAML.
func Parse(ctx context.Context, data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.resolveSecrets(ctx); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveSecrets(ctx context.Context) error {
	resolver, err := secret.DefaultRegistry.NewResolver(c.Secrets)
	if err != nil {
		return fmt.Errorf("config: secrets: %w", err)
	}
	defer resolver.Close()

	fields := map[string]*string{
		"server.addr":          &c.Server.Addr,
		"identity.jwks_url":    &c.Identity.JWKSURL,
		"identity.issuer":      &c.Identity.Issuer,
		"identity.audience":    &c.Identity.Audience,
		"identity.client_id":   &c.Identity.ClientID,
		"identity.hmac_key":    &c.Identity.HMACKey,
		"internal.secret":      &c.Internal.Secret,
		"proxy.cursor_secret":  &c.Proxy.CursorSecret,
		"model.base_url":       &c.Model.BaseURL,
		"model.api_key":        &c.Model.APIKey,
		"model.model":          &c.Model.Model,
		"redis.addr":           &c.Redis.Addr,
		"redis.password":       &c.Redis.Password,
		"observe.service_name": &c.Observe.ServiceName,
	}
	for i := range c.Routing.Backends {
		b := &c.Routing.Backends[i]
		fields["routing.backends["+strconv.Itoa(i)+"].address"] = &b.Address
	}
	if err := resolver.ResolveFields(ctx, fields); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		c.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if len(c.Identity.Algorithms) == 0 {
		if c.Identity.HMACKey != "" && c.Identity.JWKSURL == "" {
			c.Identity.Algorithms = []string{"HS256"}
		} else {
			c.Identity.Algorithms = []string{"RS256"}
		}
	}
	if c.Identity.JWKSCacheTTL <= 0 {
		c.Identity.JWKSCacheTTL = time.Hour
	}

	if c.Internal.Window <= 0 {
		c.Internal.Window = 30 * time.Second
	}

	if c.Routing.WildcardRole == "" {
		c.Routing.WildcardRole = routing.DefaultWildcardRole
	}

	if c.Proxy.PageSize <= 0 {
		c.Proxy.PageSize = 50
	}
	if c.Proxy.MaxPageSize <= 0 {
		c.Proxy.MaxPageSize = 200
	}
	if c.Proxy.MaxAggregatePages <= 0 {
		c.Proxy.MaxAggregatePages = 10
	}
	if c.Proxy.CursorTTL <= 0 {
		c.Proxy.CursorTTL = 15 * time.Minute
	}
	if c.Proxy.CursorSecret == "" {
		c.Proxy.CursorSecret = c.Internal.Secret
	}

	if c.Confirm.TTL <= 0 {
		c.Confirm.TTL = 5 * time.Minute
	}
	if c.Confirm.TombstoneTTL <= 0 {
		c.Confirm.TombstoneTTL = time.Hour
	}

	if c.Defense.Mode == "" {
		c.Defense.Mode = "block"
	}
	if c.Defense.UnmaskRoles == nil {
		c.Defense.UnmaskRoles = []string{"hr-write", "finance-write", c.Routing.WildcardRole}
	}

	if c.Model.Model == "" {
		c.Model.Model = "gpt-4o-mini"
	}
	if c.Model.MaxToolRounds <= 0 {
		c.Model.MaxToolRounds = 5
	}
	if c.Model.MaxGenerationDuration <= 0 {
		c.Model.MaxGenerationDuration = 2 * time.Minute
	}

	if c.Observe.ServiceName == "" {
		c.Observe.ServiceName = "toolgate"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Identity.JWKSURL == "" && c.Identity.HMACKey == "":
		return fmt.Errorf("%w: identity.jwks_url or identity.hmac_key is required", ErrInvalid)
	case c.Identity.JWKSURL != "" && c.Identity.Issuer == "":
		return fmt.Errorf("%w: identity.issuer is required with identity.jwks_url", ErrInvalid)
	case c.Identity.JWKSURL != "" && c.Identity.Audience == "":
		return fmt.Errorf("%w: identity.audience is required with identity.jwks_url", ErrInvalid)
	case c.Identity.JWKSURL != "" && c.Identity.RoleClaim == "" && c.Identity.ClientID == "":
		return fmt.Errorf("%w: identity.client_id or identity.role_claim is required with identity.jwks_url", ErrInvalid)
	case len(c.Internal.Secret) < 32:
		return fmt.Errorf("%w: internal.secret must be at least 32 bytes", ErrInvalid)
	case len(c.Proxy.CursorSecret) < 32:
		return fmt.Errorf("%w: proxy.cursor_secret must be at least 32 bytes", ErrInvalid)
	case len(c.Routing.Backends) == 0:
		return fmt.Errorf("%w: routing.backends is empty", ErrInvalid)
	case c.Proxy.PageSize > c.Proxy.MaxPageSize:
		return fmt.Errorf("%w: proxy.page_size %d exceeds max_page_size %d", ErrInvalid, c.Proxy.PageSize, c.Proxy.MaxPageSize)
	case c.Confirm.TombstoneTTL < c.Confirm.TTL:
		return fmt.Errorf("%w: confirm.tombstone_ttl must not be shorter than confirm.ttl", ErrInvalid)
	case c.Defense.Mode != "block" && c.Defense.Mode != "sanitize":
		return fmt.Errorf("%w: defense.mode %q is not block or sanitize", ErrInvalid, c.Defense.Mode)
	}
	if err := c.Observe.Validate(); err != nil {
		return fmt.Errorf("%w: observe: %w", ErrInvalid, err)
	}
	return nil
}

// MemoryState reports whether shared state stays in process memory.
func (c *Config) MemoryState() bool {
	return c.Redis.Addr == ""
}
