package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records gateway metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records one backend call with its outcome.
	RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, outcome string, failed bool)

	// RecordCircuit records a circuit breaker transition.
	RecordCircuit(ctx context.Context, backend, from, to string)
}

type metricsImpl struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
	circuit  metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	calls, err := meter.Int64Counter(
		"gateway.backend.calls",
		metric.WithDescription("Backend tool calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"gateway.backend.failures",
		metric.WithDescription("Backend tool calls that failed"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"gateway.backend.duration_ms",
		metric.WithDescription("Backend tool call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	circuit, err := meter.Int64Counter(
		"gateway.circuit.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{calls: calls, failures: failures, duration: duration, circuit: circuit}, nil
}

func (m *metricsImpl) RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, outcome string, failed bool) {
	attrs := append(meta.attributes(), attribute.String("call.outcome", outcome))
	opt := metric.WithAttributes(attrs...)

	m.calls.Add(ctx, 1, opt)
	if failed {
		m.failures.Add(ctx, 1, opt)
	}
	m.duration.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordCircuit(ctx context.Context, backend, from, to string) {
	m.circuit.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend.name", backend),
		attribute.String("circuit.from", from),
		attribute.String("circuit.to", to),
	))
}

type noopMetrics struct{}

func (noopMetrics) RecordCall(context.Context, CallMeta, time.Duration, string, bool) {}
func (noopMetrics) RecordCircuit(context.Context, string, string, string)             {}
