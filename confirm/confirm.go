package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/cache"
	"github.com/jonwraymond/toolgate/envelope"
	"github.com/jonwraymond/toolgate/observe"
	"github.com/jonwraymond/toolgate/proxy"
	"github.com/jonwraymond/toolgate/routing"
)

const (
	pendingNamespace   = "confirm"
	tombstoneNamespace = "confirm:exp"
)

// Sentinel errors for coordinator construction.
var (
	ErrNilCache      = errors.New("confirm: cache is nil")
	ErrNilInvoker    = errors.New("confirm: invoker is nil")
	ErrNilAuthorizer = errors.New("confirm: authorizer is nil")
)

// State is the lifecycle position of a confirmation.
type State string

const (
	StateNone      State = "none"
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// Pending is a mutating call awaiting a human decision.
type Pending struct {
	ID               string         `json:"id"`
	Backend          string         `json:"backend"`
	Tool             string         `json:"tool"`
	Arguments        map[string]any `json:"arguments,omitempty"`
	Principal        auth.Principal `json:"principal"`
	Message          string         `json:"message"`
	ConfirmationData map[string]any `json:"confirmationData,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	ExpiresAt        time.Time      `json:"expiresAt"`
}

// Invoker executes a tool call. *proxy.Proxy satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req proxy.Request) envelope.Response
}

// Authorizer re-checks access at resolution time. *routing.Router
// satisfies it.
type Authorizer interface {
	Authorize(p *auth.Principal, backend, tool string) (routing.BackendDescriptor, routing.ToolDescriptor, error)
}

// Config configures a Coordinator.
type Config struct {
	// TTL is how long a pending action can be resolved.
	// Default: 5 minutes
	TTL time.Duration

	// TombstoneTTL is how long an expired id is still reported as expired
	// rather than unknown.
	// Default: 1 hour
	TombstoneTTL time.Duration
}

// Coordinator parks mutating calls until a human approves or cancels them.
// Pending records live in the shared cache, so any gateway instance can
// resolve them, and each id resolves at most once.
//
// Contract:
//   - Concurrency: safe for concurrent use; of concurrent Resolve calls for
//     one id exactly one acts.
//   - Errors: returned as error envelopes.
type Coordinator struct {
	store   cache.Cache
	invoker Invoker
	authz   Authorizer
	cfg     Config
	logger  observe.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger for lifecycle events.
func WithLogger(l observe.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store cache.Cache, invoker Invoker, authz Authorizer, cfg Config, opts ...Option) (*Coordinator, error) {
	switch {
	case store == nil:
		return nil, ErrNilCache
	case invoker == nil:
		return nil, ErrNilInvoker
	case authz == nil:
		return nil, ErrNilAuthorizer
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.TombstoneTTL < cfg.TTL {
		cfg.TombstoneTTL = max(time.Hour, cfg.TTL)
	}

	c := &Coordinator{
		store:   store,
		invoker: invoker,
		authz:   authz,
		cfg:     cfg,
		logger:  observe.NopLogger(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Intercept parks resp if it is a pending confirmation and returns it with
// a gateway-issued id. Other responses pass through unchanged.
func (c *Coordinator) Intercept(ctx context.Context, p *auth.Principal, req proxy.Request, resp envelope.Response) envelope.Response {
	backendPending, ok := resp.PendingConfirmation()
	if !ok || p == nil {
		return resp
	}

	now := c.now()
	rec := Pending{
		ID:               c.newID(),
		Backend:          req.Backend,
		Tool:             req.Tool,
		Arguments:        req.Arguments,
		Principal:        *p,
		Message:          backendPending.Message,
		ConfirmationData: backendPending.ConfirmationData,
		CreatedAt:        now,
		ExpiresAt:        now.Add(c.cfg.TTL),
	}
	if rec.Message == "" {
		rec.Message = fmt.Sprintf("Confirm %s on %s?", req.Tool, req.Backend)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return envelope.Fail(envelope.Wrap(envelope.CodeInternal, "could not record confirmation", err))
	}
	if err := c.store.Set(ctx, cache.Key(pendingNamespace, rec.ID), raw, c.cfg.TTL); err != nil {
		return envelope.Fail(envelope.Wrap(envelope.CodeInternal, "could not record confirmation", err))
	}
	expiry := []byte(strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10))
	if err := c.store.Set(ctx, cache.Key(tombstoneNamespace, rec.ID), expiry, c.cfg.TombstoneTTL); err != nil {
		c.logger.Warn(ctx, "confirmation tombstone not stored", observe.F("confirmation_id", rec.ID), observe.F("error", err))
	}

	c.logger.Info(ctx, "confirmation pending",
		observe.F("confirmation_id", rec.ID),
		observe.F("backend", rec.Backend),
		observe.F("tool", rec.Tool),
		observe.F("subject", p.Subject))

	data := make(map[string]any, len(rec.ConfirmationData)+3)
	for k, v := range rec.ConfirmationData {
		data[k] = v
	}
	data["backend"] = rec.Backend
	data["tool"] = rec.Tool
	data["expiresAt"] = rec.ExpiresAt.UTC().Format(time.RFC3339)

	return envelope.Pending(envelope.PendingConfirmation{
		ConfirmationID:   rec.ID,
		Message:          rec.Message,
		ConfirmationData: data,
	})
}

// Resolve approves or cancels the pending action id on behalf of p.
// Approval executes the action exactly once; the record is consumed before
// execution so a concurrent or repeated Resolve finds nothing.
func (c *Coordinator) Resolve(ctx context.Context, p *auth.Principal, id string, approved bool) envelope.Response {
	if p == nil {
		return envelope.Fail(envelope.NewError(envelope.CodeAuthentication, "MISSING_TOKEN"))
	}
	if _, err := uuid.Parse(id); err != nil {
		return envelope.Fail(envelope.NewError(envelope.CodeValidation, "confirmation id is malformed").
			WithField("confirmationId"))
	}

	key := cache.Key(pendingNamespace, id)
	raw, ok := c.store.Get(ctx, key)
	if !ok {
		return envelope.Fail(c.missing(ctx, id))
	}
	var rec Pending
	if err := json.Unmarshal(raw, &rec); err != nil {
		return envelope.Fail(envelope.Wrap(envelope.CodeInternal, "confirmation record unreadable", err))
	}

	if p.Subject != rec.Principal.Subject {
		c.logger.Warn(ctx, "confirmation rejected: subject mismatch",
			observe.F("confirmation_id", id), observe.F("subject", p.Subject))
		return envelope.Fail(envelope.NewError(envelope.CodeAuthorization, "confirmation belongs to another user"))
	}
	if _, _, err := c.authz.Authorize(p, rec.Backend, rec.Tool); err != nil {
		c.logger.Warn(ctx, "confirmation rejected: access revoked",
			observe.F("confirmation_id", id), observe.F("subject", p.Subject))
		return envelope.FailWith(err)
	}

	_, ok, err := c.store.Take(ctx, key)
	if err != nil {
		return envelope.Fail(envelope.Wrap(envelope.CodeBackendUnavailable, "confirmation store unavailable", err).
			WithSuggestion("retry the confirmation shortly"))
	}
	if !ok {
		return envelope.Fail(c.missing(ctx, id))
	}
	_ = c.store.Delete(ctx, cache.Key(tombstoneNamespace, id))

	if !approved {
		c.logger.Info(ctx, "confirmation cancelled",
			observe.F("confirmation_id", id), observe.F("subject", p.Subject))
		return envelope.OK(map[string]any{
			"confirmationId": id,
			"state":          StateCancelled,
			"message":        "Action cancelled. Nothing was changed.",
		}, envelope.Metadata{})
	}

	c.logger.Info(ctx, "confirmation approved",
		observe.F("confirmation_id", id),
		observe.F("backend", rec.Backend),
		observe.F("tool", rec.Tool),
		observe.F("subject", p.Subject))

	resp := c.invoker.Invoke(ctx, proxy.Request{
		Backend:   rec.Backend,
		Tool:      rec.Tool,
		Arguments: rec.Arguments,
		Principal: p,
		Confirmed: true,
	})
	if _, again := resp.PendingConfirmation(); again {
		return envelope.Fail(envelope.NewError(envelope.CodeInternal, "backend did not accept the confirmation"))
	}
	return resp
}

// State reports where id is in its lifecycle. Resolved ids report
// StateNone.
func (c *Coordinator) State(ctx context.Context, id string) State {
	if _, ok := c.store.Get(ctx, cache.Key(pendingNamespace, id)); ok {
		return StatePending
	}
	if c.expired(ctx, id) {
		return StateExpired
	}
	return StateNone
}

func (c *Coordinator) missing(ctx context.Context, id string) *envelope.Error {
	if c.expired(ctx, id) {
		return envelope.NewError(envelope.CodeConfirmationExpired, "confirmation expired").
			WithSuggestion("repeat the original request to get a new confirmation")
	}
	return envelope.NewError(envelope.CodeNotFound, "confirmation not found or already resolved")
}

func (c *Coordinator) expired(ctx context.Context, id string) bool {
	raw, ok := c.store.Get(ctx, cache.Key(tombstoneNamespace, id))
	if !ok {
		return false
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return false
	}
	return !c.now().Before(time.UnixMilli(ms))
}

