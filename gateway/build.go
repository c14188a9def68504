package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/cache"
	"github.com/jonwraymond/toolgate/config"
	"github.com/jonwraymond/toolgate/confirm"
	"github.com/jonwraymond/toolgate/defense"
	"github.com/jonwraymond/toolgate/health"
	"github.com/jonwraymond/toolgate/internalauth"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/proxy"
	"github.com/jonwraymond/toolgate/resilience"
	"github.com/jonwraymond/toolgate/routing"
	"github.com/jonwraymond/toolgate/stream"
)

// App is a gateway assembled from configuration.
type App struct {
	Server    *Server
	Pipeline  *Pipeline
	Router    *routing.Router
	Signer    *internalauth.Signer
	Cache     cache.Cache
	Streamer  *stream.Coordinator
	Logger    observe.Logger
	Resilient *resilience.Pool

	closers []func(context.Context) error
}

type buildOptions struct {
	model      stream.ModelClient
	verifier   auth.TokenVerifier
	store      cache.Cache
	httpClient *http.Client
}

// BuildOption overrides a component Build would otherwise create.
type BuildOption func(*buildOptions)

// WithModel uses m instead of an OpenAI-compatible client.
func WithModel(m stream.ModelClient) BuildOption {
	return func(o *buildOptions) { o.model = m }
}

// WithVerifier uses v instead of the configured issuer.
func WithVerifier(v auth.TokenVerifier) BuildOption {
	return func(o *buildOptions) { o.verifier = v }
}

// WithCache uses c for shared state instead of memory or redis.
func WithCache(c cache.Cache) BuildOption {
	return func(o *buildOptions) { o.store = c }
}

// WithBackendClient sets the HTTP client for backend calls and checks.
func WithBackendClient(c *http.Client) BuildOption {
	return func(o *buildOptions) { o.httpClient = c }
}

// Build wires every component described by cfg. Close releases what it
// opened.
func Build(ctx context.Context, cfg *config.Config, opts ...BuildOption) (app *App, err error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	app = &App{}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()

	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	app.closers = append(app.closers, obs.Shutdown)
	app.Logger = obs.Logger()
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	agg := health.NewAggregator(health.AggregatorConfig{})

	switch {
	case bo.store != nil:
		app.Cache = bo.store
	case cfg.MemoryState():
		app.Logger.Warn(ctx, "shared state kept in process memory; run a single instance")
		app.Cache = cache.NewMemoryCache(cache.DefaultPolicy())
	default:
		client, err := cache.DialRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
		app.closers = append(app.closers, func(context.Context) error { return client.Close() })
		rc := cache.NewRedisCache(client, cache.DefaultPolicy())
		agg.Register(health.NewPingChecker("redis", rc))
		app.Cache = rc
	}

	verifier := bo.verifier
	if verifier == nil {
		verifier = NewVerifier(cfg.Identity, app.Cache)
	}

	app.Signer, err = internalauth.NewSigner(internalauth.Config{
		Secret: []byte(cfg.Internal.Secret),
		Window: cfg.Internal.Window,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	app.Router, err = routing.NewRouter(cfg.Routing)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	policy := cfg.Resilience
	policy.OnStateChange = func(backend string, from, to resilience.State) {
		mw.OnCircuitChange(backend, from.String(), to.String())
	}
	app.Resilient = resilience.NewPool(policy)
	agg.RegisterOptional(health.NewCircuitChecker(app.Resilient))
	for _, b := range app.Router.Backends() {
		agg.RegisterOptional(health.NewBackendChecker(b.Name, b.Address, bo.httpClient))
	}

	proxyOpts := []proxy.Option{proxy.WithPool(app.Resilient), proxy.WithMiddleware(mw), proxy.WithLogger(app.Logger)}
	if bo.httpClient != nil {
		proxyOpts = append(proxyOpts, proxy.WithHTTPClient(bo.httpClient))
	}
	px, err := proxy.New(app.Router, app.Signer, app.Cache, proxy.Config{
		PageSize:          cfg.Proxy.PageSize,
		MaxPageSize:       cfg.Proxy.MaxPageSize,
		MaxAggregatePages: cfg.Proxy.MaxAggregatePages,
		CursorTTL:         cfg.Proxy.CursorTTL,
		CursorSecret:      []byte(cfg.Proxy.CursorSecret),
	}, proxyOpts...)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	co, err := confirm.NewCoordinator(app.Cache, px, app.Router, confirm.Config{
		TTL:          cfg.Confirm.TTL,
		TombstoneTTL: cfg.Confirm.TombstoneTTL,
	}, confirm.WithLogger(app.Logger))
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	scanner, err := newScanner(cfg.Defense)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	masker := defense.NewMasker(defense.MaskerConfig{
		Fields:      cfg.Defense.MaskFields,
		UnmaskRoles: cfg.Defense.UnmaskRoles,
	})

	app.Pipeline, err = NewPipeline(px, co, masker)
	if err != nil {
		return nil, err
	}

	model := bo.model
	if model == nil && (cfg.Model.APIKey != "" || cfg.Model.BaseURL != "") {
		model, err = stream.NewOpenAIModel(stream.OpenAIConfig{
			BaseURL: cfg.Model.BaseURL,
			APIKey:  cfg.Model.APIKey,
			Model:   cfg.Model.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
	}
	if model == nil {
		app.Logger.Warn(ctx, "no model configured; query routes disabled")
	} else {
		app.Streamer, err = stream.NewCoordinator(model, app.Pipeline, app.Router, stream.Config{
			MaxToolRounds:         cfg.Model.MaxToolRounds,
			MaxGenerationDuration: cfg.Model.MaxGenerationDuration,
			SystemPrompt:          cfg.Model.SystemPrompt,
		}, stream.WithScanner(scanner), stream.WithLogger(app.Logger))
		if err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
	}

	deps := Deps{
		Verifier: verifier,
		Router:   app.Router,
		Pipeline: app.Pipeline,
		Streamer: app.Streamer,
		Health:   agg,
		Logger:   app.Logger,
	}
	if cfg.Server.RateLimit.Rate > 0 {
		deps.Limiter = resilience.NewKeyedRateLimiter(cfg.Server.RateLimit)
	}
	if cfg.Observe.Metrics.Enabled && cfg.Observe.Metrics.Exporter == "prometheus" {
		deps.Metrics = promhttp.Handler()
	}

	app.Server, err = New(deps, Options{AllowedOrigins: cfg.Server.AllowedOrigins})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewVerifier builds the token verifier described by id. Revoked token ids
// are looked up in store.
func NewVerifier(id config.IdentityConfig, store cache.Cache) *auth.Verifier {
	var keys auth.KeyProvider
	if id.JWKSURL != "" {
		keys = auth.NewJWKSKeyProvider(auth.JWKSConfig{URL: id.JWKSURL, CacheTTL: id.JWKSCacheTTL})
	} else {
		keys = auth.NewStaticKeyProvider([]byte(id.HMACKey))
	}

	var roles auth.RoleExtractor = auth.KeycloakRoleExtractor{ClientID: id.ClientID}
	if id.RoleClaim != "" {
		roles = auth.ClaimRoleExtractor{Claim: id.RoleClaim}
	}

	return auth.NewVerifier(auth.VerifierConfig{
		Issuer:     id.Issuer,
		Audience:   id.Audience,
		Leeway:     id.Leeway,
		Algorithms: id.Algorithms,
	}, keys, auth.WithRoleExtractor(roles), auth.WithRevocations(auth.NewRevocations(store)))
}

func newScanner(cfg config.DefenseConfig) (*defense.Scanner, error) {
	patterns := make([]defense.Pattern, 0, len(cfg.Patterns))
	for i, expr := range cfg.Patterns {
		patterns = append(patterns, defense.Pattern{Name: fmt.Sprintf("custom_%d", i+1), Expr: expr})
	}
	return defense.NewScanner(defense.ScannerConfig{Mode: defense.Mode(cfg.Mode), Patterns: patterns})
}
