package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/confirm"
	"github.com/jonwraymond/toolgate/envelope"
	"github.com/jonwraymond/toolgate/health"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/proxy"
	"github.com/jonwraymond/toolgate/resilience"
	"github.com/jonwraymond/toolgate/routing"
	"github.com/jonwraymond/toolgate/stream"
)

// QueryTokenParam carries the bearer token on the EventSource route.
const QueryTokenParam = "token"

// Deps are the components a Server routes to.
type Deps struct {
	Verifier auth.TokenVerifier
	Router   *routing.Router
	Pipeline *Pipeline

	// Streamer answers /api/query. Nil disables the query routes.
	Streamer *stream.Coordinator

	// Health backs /health, /healthz and /readyz.
	// Default: an aggregator with no checks
	Health *health.Aggregator

	// Limiter bounds requests per authenticated subject. Nil disables it.
	Limiter *resilience.KeyedRateLimiter

	// Metrics is served at /metrics when set.
	Metrics http.Handler

	Logger observe.Logger
}

// Options tune the HTTP surface.
type Options struct {
	// AllowedOrigins enables CORS for browser clients.
	AllowedOrigins []string

	// KeepAlive is the SSE comment interval on idle streams.
	// Default: 15 seconds
	KeepAlive time.Duration
}

// Server is the gateway's HTTP front end.
//
// Contract:
//   - Every response body is an envelope, an SSE stream or a health report.
//   - Concurrency: safe for concurrent use.
type Server struct {
	deps    Deps
	opts    Options
	logger  observe.Logger
	handler http.Handler
}

// New creates a Server.
func New(deps Deps, opts Options) (*Server, error) {
	switch {
	case deps.Verifier == nil:
		return nil, ErrNilVerifier
	case deps.Router == nil:
		return nil, ErrNilRouter
	case deps.Pipeline == nil:
		return nil, ErrNilPipeline
	}
	if deps.Health == nil {
		deps.Health = health.NewAggregator(health.AggregatorConfig{})
	}
	if deps.Logger == nil {
		deps.Logger = observe.NopLogger()
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	s := &Server{deps: deps, opts: opts, logger: deps.Logger}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   s.opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}).Handler)
	}

	health.Mount(r, s.deps.Health)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api", func(api chi.Router) {
		api.Group(func(g chi.Router) {
			s.authenticate(g)
			g.Post("/query", s.handleQuery)
			g.Post("/tools/{backend}/{tool}", s.handleTool)
			g.Post("/confirm/{confirmationID}", s.handleConfirm)
			g.Get("/confirm/{confirmationID}", s.handleConfirmState)
			g.Get("/backends", s.handleBackends)
		})
		api.Group(func(g chi.Router) {
			s.authenticate(g, auth.AllowQueryToken(QueryTokenParam))
			g.Get("/query/stream", s.handleQueryStream)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		envelope.WriteError(w, envelope.NewError(envelope.CodeNotFound, "no such route"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		envelope.WriteError(w, envelope.Errorf(envelope.CodeValidation, "method %s not allowed", r.Method))
	})
	return r
}

// authenticate requires a token on every route of r, then applies the
// per-subject rate limit.
func (s *Server) authenticate(r chi.Router, opts ...auth.MiddlewareOption) {
	r.Use(auth.Middleware(s.deps.Verifier, opts...))
	if s.deps.Limiter != nil {
		r.Use(s.deps.Limiter.Middleware(func(r *http.Request) string {
			return auth.SubjectFromContext(r.Context())
		}))
	}
}

// recoverer converts panics into INTERNAL_ERROR envelopes.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error(r.Context(), "handler panic",
					observe.F("path", r.URL.Path), observe.F("panic", v),
					observe.F("request_id", middleware.GetReqID(r.Context())))
				envelope.WriteError(w, envelope.NewError(envelope.CodeInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if e := decodeJSON(w, r, &req, false); e != nil {
		envelope.WriteError(w, e)
		return
	}
	s.stream(w, r, req.Query)
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req := QueryRequest{Query: r.URL.Query().Get("q")}
	if e := validateStruct(&req); e != nil {
		envelope.WriteError(w, e.WithField("q"))
		return
	}
	s.stream(w, r, req.Query)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, query string) {
	if s.deps.Streamer == nil {
		envelope.WriteError(w, envelope.NewError(envelope.CodeBackendUnavailable, "no model is configured").
			WithSuggestion("call tools directly with POST /api/tools/{backend}/{tool}"))
		return
	}
	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		envelope.WriteError(w, envelope.Wrap(envelope.CodeInternal, "streaming unsupported", err))
		return
	}
	stream.SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(s.opts.KeepAlive)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if sse.KeepAlive() != nil {
					return
				}
			}
		}
	}()

	p := auth.PrincipalFromContext(ctx)
	start := time.Now()
	out := s.deps.Streamer.Run(ctx, p, query, sse)
	fields := []observe.Field{
		observe.F("subject", p.Subject),
		observe.F("state", string(out.State)),
		observe.F("tool_rounds", out.Rounds),
		observe.F("duration_ms", time.Since(start).Milliseconds()),
		observe.F("request_id", middleware.GetReqID(ctx)),
	}
	if out.Err != nil {
		fields = append(fields, observe.F("error_code", string(out.Err.Code)))
		s.logger.Warn(ctx, "query finished with error", fields...)
		return
	}
	s.logger.Info(ctx, "query finished", fields...)
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	var req ToolRequest
	if e := decodeJSON(w, r, &req, true); e != nil {
		envelope.WriteError(w, e)
		return
	}
	resp := s.deps.Pipeline.Invoke(r.Context(), proxy.Request{
		Backend:   chi.URLParam(r, "backend"),
		Tool:      chi.URLParam(r, "tool"),
		Arguments: req.Arguments,
		Principal: auth.PrincipalFromContext(r.Context()),
		Cursor:    req.Cursor,
		PageSize:  req.PageSize,
		All:       req.All,
	})
	envelope.WriteJSON(w, envelope.StatusOf(resp), resp)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if e := decodeJSON(w, r, &req, false); e != nil {
		envelope.WriteError(w, e)
		return
	}
	resp := s.deps.Pipeline.Resolve(r.Context(), auth.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "confirmationID"), *req.Approved)
	envelope.WriteJSON(w, envelope.StatusOf(resp), resp)
}

func (s *Server) handleConfirmState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "confirmationID")
	state := s.deps.Pipeline.State(r.Context(), id)
	if state == confirm.StateNone {
		envelope.WriteError(w, envelope.NewError(envelope.CodeNotFound, "confirmation not found"))
		return
	}
	resp := envelope.OK(map[string]any{"confirmationId": id, "state": state}, envelope.Metadata{})
	envelope.WriteJSON(w, http.StatusOK, resp)
}

// BackendView is one entry of GET /api/backends.
type BackendView struct {
	Name  string                   `json:"name"`
	Tools []routing.ToolDescriptor `json:"tools"`
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	views := []BackendView{}
	index := map[string]int{}
	for _, route := range s.deps.Router.Tools(p.Roles) {
		i, ok := index[route.Backend]
		if !ok {
			i = len(views)
			index[route.Backend] = i
			views = append(views, BackendView{Name: route.Backend})
		}
		views[i].Tools = append(views[i].Tools, route.Tool)
	}
	envelope.WriteJSON(w, http.StatusOK, envelope.OK(views, envelope.Metadata{
		TotalCount:    strconv.Itoa(len(views)),
		ReturnedCount: len(views),
	}))
}

// Serve listens on addr until ctx ends, then drains in-flight requests for
// up to shutdownTimeout.
func (s *Server) Serve(ctx context.Context, addr string, readHeaderTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "gateway listening", observe.F("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.Info(shutdownCtx, "gateway shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
