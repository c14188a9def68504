package observe

import (
	"context"
	"time"

	"github.com/jonwraymond/toolgate/envelope"
)

// CallFunc performs one backend call. A structured backend error is returned
// in the Response; err is reserved for failures to obtain one.
type CallFunc func(ctx context.Context, meta CallMeta) (envelope.Response, error)

// Middleware wraps backend calls with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a CallFunc safe for concurrent use.
//   - Errors: results of the wrapped call are returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
	now     func() time.Time
}

// NewMiddleware creates a Middleware.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger, now: time.Now}
}

// MiddlewareFromObserver builds a Middleware from an Observer's providers.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	metrics, err := newMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(newTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Wrap instruments fn.
func (m *Middleware) Wrap(fn CallFunc) CallFunc {
	return func(ctx context.Context, meta CallMeta) (envelope.Response, error) {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := m.now()

		resp, err := fn(ctx, meta)

		elapsed := m.now().Sub(start)
		outcome, failed := Outcome(resp, err)
		m.tracer.EndSpan(span, outcome, err)
		m.metrics.RecordCall(ctx, meta, elapsed, outcome, failed)

		log := m.logger.WithCall(meta)
		fields := []Field{
			F("duration_ms", float64(elapsed.Microseconds())/1000),
			F("outcome", outcome),
		}
		switch {
		case err != nil:
			log.Error(ctx, "backend call failed", append(fields, F("error", err))...)
		case failed:
			log.Warn(ctx, "backend call returned error", fields...)
		default:
			log.Info(ctx, "backend call completed", fields...)
		}
		return resp, err
	}
}

// OnCircuitChange records a circuit breaker transition.
func (m *Middleware) OnCircuitChange(backend, from, to string) {
	ctx := context.Background()
	m.metrics.RecordCircuit(ctx, backend, from, to)
	m.logger.Warn(ctx, "circuit state changed",
		F("backend", backend), F("from", from), F("to", to))
}

// Outcome classifies a call result as its envelope status or error code.
func Outcome(resp envelope.Response, err error) (outcome string, failed bool) {
	if err != nil {
		return string(envelope.FromError(err).Code), true
	}
	if e, ok := resp.Err(); ok {
		return string(e.Code), true
	}
	return string(resp.Status()), false
}
