package proxy

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/cache"
	"github.com/jonwraymond/toolgate/envelope"
	"github.com/jonwraymond/toolgate/internalauth"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/resilience"
	"github.com/jonwraymond/toolgate/routing"
)

// Argument names owned by the gateway on list tools.
const (
	ArgLimit  = "limit"
	ArgOffset = "offset"
)

// Request is one tool invocation on behalf of Principal.
type Request struct {
	Backend   string
	Tool      string
	Arguments map[string]any
	Principal *auth.Principal

	// Cursor continues a truncated list result.
	Cursor string

	// PageSize overrides the configured page size, capped at MaxPageSize.
	PageSize int

	// All aggregates every page of a list tool.
	All bool

	// Confirmed tells the backend a human approved the action.
	Confirmed bool
}

// Config configures a Proxy.
type Config struct {
	// PageSize is the number of rows returned per list page.
	// Default: 50
	PageSize int

	// MaxPageSize caps caller-requested page sizes.
	// Default: 200
	MaxPageSize int

	// MaxAggregatePages caps the pages InvokeAll fetches.
	// Default: 10
	MaxAggregatePages int

	// CursorTTL is how long an issued cursor can be redeemed.
	// Default: 15 minutes
	CursorTTL time.Duration

	// CursorSecret seals cursors. At least 32 bytes.
	CursorSecret []byte

	// MaxResponseBytes bounds a backend response body.
	// Default: 8 MiB
	MaxResponseBytes int64

	// MaxFanout bounds concurrent calls in InvokeMany.
	// Default: 8
	MaxFanout int
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 200
	}
	if c.PageSize > c.MaxPageSize {
		c.PageSize = c.MaxPageSize
	}
	if c.MaxAggregatePages <= 0 {
		c.MaxAggregatePages = 10
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 8 << 20
	}
	if c.MaxFanout <= 0 {
		c.MaxFanout = 8
	}
}

// Proxy invokes backend tools on behalf of authenticated principals.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: every failure is returned as an error envelope; Invoke never
//     returns a raw error.
type Proxy struct {
	router *routing.Router
	codec  *CursorCodec
	pool   *resilience.Pool
	client *client
	mw     *observe.Middleware
	logger observe.Logger
	cfg    Config
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithHTTPClient sets the client used for backend calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Proxy) {
		if c != nil {
			p.client.http = c
		}
	}
}

// WithPool sets the per-backend resilience guards.
func WithPool(pool *resilience.Pool) Option {
	return func(p *Proxy) {
		if pool != nil {
			p.pool = pool
		}
	}
}

// WithMiddleware instruments every backend call.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(p *Proxy) { p.mw = mw }
}

// WithLogger sets the logger for cursor bookkeeping failures.
func WithLogger(l observe.Logger) Option {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the time source used for cursor expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Proxy) {
		if now != nil {
			p.codec.now = now
		}
	}
}

// New creates a Proxy. store holds cursor nonces and must be shared by all
// gateway instances.
func New(router *routing.Router, signer *internalauth.Signer, store cache.Cache, cfg Config, opts ...Option) (*Proxy, error) {
	if router == nil {
		return nil, ErrNilRouter
	}
	if signer == nil {
		return nil, ErrNilSigner
	}
	cfg.applyDefaults()

	codec, err := NewCursorCodec(cfg.CursorSecret, store, cfg.CursorTTL)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		router: router,
		codec:  codec,
		pool:   resilience.NewPool(resilience.BackendPolicy{}),
		client: &client{
			http:     &http.Client{},
			signer:   signer,
			maxBytes: cfg.MaxResponseBytes,
		},
		logger: observe.NopLogger(),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Proxy) Config() Config { return p.cfg }

// Invoke authorizes and executes req. List tools are paged; a request with
// All set is aggregated as by InvokeAll.
func (p *Proxy) Invoke(ctx context.Context, req Request) envelope.Response {
	b, t, err := p.router.Authorize(req.Principal, req.Backend, req.Tool)
	if err != nil {
		return envelope.FailWith(err)
	}
	if t.Kind == routing.KindList {
		if req.All {
			return p.aggregate(ctx, req, b, t)
		}
		return p.page(ctx, req, b, t)
	}
	if req.Cursor != "" {
		return envelope.Fail(envelope.NewError(envelope.CodeValidation, "cursor applies only to list tools").
			WithField("cursor"))
	}

	resp := p.execute(ctx, req.Principal, b, t, req.Arguments, req.Confirmed)
	return suggestListTool(t, resp)
}

// InvokeAll follows cursors until the list is exhausted or the page ceiling
// is reached and returns the rows as one result. A result cut short by the
// ceiling carries aggregationCapped, a warning and a cursor to continue.
func (p *Proxy) InvokeAll(ctx context.Context, req Request) envelope.Response {
	req.All = true
	return p.Invoke(ctx, req)
}

// InvokeMany runs reqs concurrently and returns their results in input
// order.
func (p *Proxy) InvokeMany(ctx context.Context, reqs []Request) []envelope.Response {
	out := make([]envelope.Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxFanout)
	for i, req := range reqs {
		g.Go(func() error {
			out[i] = p.Invoke(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// window is one page request against a list tool.
type window struct {
	filters map[string]any
	offset  int
	limit   int
	from    *Cursor
}

func (p *Proxy) window(ctx context.Context, req Request) (window, *envelope.Error) {
	if req.Cursor != "" {
		c, err := p.codec.Redeem(ctx, req.Cursor, req.Backend, req.Tool, req.Principal.Subject)
		if err != nil {
			return window{}, cursorError(err)
		}
		return window{filters: c.Filters, offset: c.Offset, limit: c.Limit, from: &c}, nil
	}

	limit := p.cfg.PageSize
	if req.PageSize > 0 {
		limit = min(req.PageSize, p.cfg.MaxPageSize)
	}
	filters := maps.Clone(req.Arguments)
	delete(filters, ArgLimit)
	delete(filters, ArgOffset)
	return window{filters: filters, limit: limit}, nil
}

// rows is the outcome of fetching one window.
type rows struct {
	records []any
	more    bool
	ok      bool
}

// fetch requests limit+1 rows so truncation is detectable. A non-list
// result is reported with ok=false and resp passed through.
func (p *Proxy) fetch(ctx context.Context, principal *auth.Principal, b routing.BackendDescriptor, t routing.ToolDescriptor, w window) (rows, envelope.Response) {
	args := maps.Clone(w.filters)
	if args == nil {
		args = make(map[string]any, 2)
	}
	args[ArgLimit] = w.limit + 1
	args[ArgOffset] = w.offset

	resp := p.execute(ctx, principal, b, t, args, false)
	s, ok := resp.Success()
	if !ok {
		return rows{}, resp
	}
	records, ok := s.Records()
	if !ok {
		return rows{}, resp
	}
	if len(records) > w.limit {
		return rows{records: records[:w.limit], more: true, ok: true}, resp
	}
	return rows{records: records, ok: true}, resp
}

func (p *Proxy) page(ctx context.Context, req Request, b routing.BackendDescriptor, t routing.ToolDescriptor) envelope.Response {
	w, werr := p.window(ctx, req)
	if werr != nil {
		return envelope.Fail(werr)
	}

	r, resp := p.fetch(ctx, req.Principal, b, t, w)
	if !r.ok {
		p.release(ctx, w, resp)
		return resp
	}

	seen := w.offset + len(r.records)
	meta := envelope.Metadata{ReturnedCount: len(r.records)}
	if !r.more {
		meta.TotalCount = strconv.Itoa(seen)
		return envelope.OK(r.records, meta)
	}

	next, err := p.codec.Issue(ctx, Cursor{
		Backend: b.Name,
		Tool:    t.Name,
		Subject: req.Principal.Subject,
		Filters: w.filters,
		Offset:  seen,
		Limit:   w.limit,
	})
	if err != nil {
		return envelope.FailWith(err)
	}
	meta.Truncated = true
	meta.TotalCount = strconv.Itoa(seen) + "+"
	meta.HasMore = true
	meta.NextCursor = next
	meta.Warning = truncationWarning(len(r.records), meta.TotalCount, t.Name)
	return envelope.OK(r.records, meta)
}

func (p *Proxy) aggregate(ctx context.Context, req Request, b routing.BackendDescriptor, t routing.ToolDescriptor) envelope.Response {
	w, werr := p.window(ctx, req)
	if werr != nil {
		return envelope.Fail(werr)
	}

	var all []any
	for pages := 1; ; pages++ {
		r, resp := p.fetch(ctx, req.Principal, b, t, w)
		if !r.ok {
			p.release(ctx, w, resp)
			return resp
		}
		all = append(all, r.records...)
		w.offset += len(r.records)

		if !r.more {
			return envelope.OK(all, envelope.Metadata{
				TotalCount:    strconv.Itoa(w.offset),
				ReturnedCount: len(all),
				PagesFetched:  pages,
			})
		}
		if pages < p.cfg.MaxAggregatePages {
			continue
		}

		next, err := p.codec.Issue(ctx, Cursor{
			Backend: b.Name,
			Tool:    t.Name,
			Subject: req.Principal.Subject,
			Filters: w.filters,
			Offset:  w.offset,
			Limit:   w.limit,
		})
		if err != nil {
			return envelope.FailWith(err)
		}
		total := strconv.Itoa(w.offset) + "+"
		return envelope.OK(all, envelope.Metadata{
			TotalCount:        total,
			ReturnedCount:     len(all),
			HasMore:           true,
			NextCursor:        next,
			PagesFetched:      pages,
			AggregationCapped: true,
			Warning: fmt.Sprintf("Stopped after %d pages (%d records) of %s; more records exist. "+
				"Tell the user the list is incomplete and that narrowing the request with filters will give a complete answer.",
				pages, len(all), t.Name),
		})
	}
}

// release hands the cursor w was redeemed from back to the caller when the
// fetch failed in a way worth retrying.
func (p *Proxy) release(ctx context.Context, w window, resp envelope.Response) {
	if w.from == nil {
		return
	}
	if e, ok := resp.Err(); !ok || !e.Retryable() {
		return
	}
	if err := p.codec.Release(ctx, *w.from); err != nil {
		p.logger.Warn(ctx, "cursor not released", observe.F("error", err.Error()))
	}
}

// execute performs one guarded, instrumented backend call.
func (p *Proxy) execute(ctx context.Context, principal *auth.Principal, b routing.BackendDescriptor, t routing.ToolDescriptor, args map[string]any, confirmed bool) envelope.Response {
	if args == nil {
		args = map[string]any{}
	}
	call := ToolCall{Arguments: args, UserContext: UserContextOf(principal), Confirmed: confirmed}
	meta := observe.CallMeta{Backend: b.Name, Tool: t.Name, Kind: string(t.Kind), Subject: principal.Subject}

	fn := func(ctx context.Context, _ observe.CallMeta) (envelope.Response, error) {
		return p.guarded(ctx, b, t.Name, call)
	}
	if p.mw != nil {
		fn = p.mw.Wrap(fn)
	}

	changesState := confirmed || t.Kind == routing.KindMutating
	if changesState {
		ctx = resilience.WithoutRetry(ctx)
	}

	resp, err := fn(ctx, meta)
	if err != nil {
		e := resilience.AsEnvelope(b.Name, err)
		if changesState && e.Code == envelope.CodeBackendUnavailable {
			e = e.WithSuggestion("the change may already have been applied; check the current state with " +
				b.Name + " before asking the user to retry")
		}
		if e.Code == envelope.CodeBackendUnavailable && e.SuggestedAction == "" {
			e = e.WithSuggestion("retry later or tell the user the " + b.Name + " service is unavailable")
		}
		return envelope.Fail(e)
	}
	return resp
}

func (p *Proxy) guarded(ctx context.Context, b routing.BackendDescriptor, tool string, call ToolCall) (envelope.Response, error) {
	var (
		mu   sync.Mutex
		resp envelope.Response
	)
	err := p.pool.Get(b.Name).Execute(ctx, func(ctx context.Context) error {
		r, err := p.client.send(ctx, b.Address, tool, call)
		if err != nil {
			return err
		}
		mu.Lock()
		resp = r
		mu.Unlock()
		return nil
	})
	if err != nil {
		return envelope.Response{}, err
	}
	mu.Lock()
	defer mu.Unlock()
	return resp, nil
}

// suggestListTool points a missed lookup at the tool that lists valid ids.
func suggestListTool(t routing.ToolDescriptor, resp envelope.Response) envelope.Response {
	e, ok := resp.Err()
	if !ok || e.Code != envelope.CodeNotFound || e.SuggestedAction != "" || t.ListTool == "" {
		return resp
	}
	return envelope.Fail(e.WithSuggestion("call " + t.ListTool + " to find valid identifiers"))
}

func truncationWarning(returned int, total, tool string) string {
	return fmt.Sprintf("Showing %d of %s records from %s. The list is incomplete: "+
		"tell the user that more records exist, and pass nextCursor to %s to fetch the next page.",
		returned, total, tool, tool)
}
