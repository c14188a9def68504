package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CallMeta identifies one backend tool call for telemetry.
type CallMeta struct {
	Backend string
	Tool    string
	Kind    string // read|list|lookup|mutating
	Subject string // caller's identity subject
}

// SpanName returns backend.call.<backend>.<tool>.
func (m CallMeta) SpanName() string {
	return "backend.call." + m.ID()
}

// ID returns <backend>.<tool>.
func (m CallMeta) ID() string {
	return m.Backend + "." + m.Tool
}

func (m CallMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("backend.name", m.Backend),
		attribute.String("tool.name", m.Tool),
	}
	if m.Kind != "" {
		attrs = append(attrs, attribute.String("tool.kind", m.Kind))
	}
	return attrs
}

// Tracer starts and ends backend call spans.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span)

	// EndSpan records the call outcome (a status or error code) and ends span.
	EndSpan(span trace.Span, outcome string, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	attrs := meta.attributes()
	if meta.Subject != "" {
		attrs = append(attrs, attribute.String("enduser.id", meta.Subject))
	}
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("call.outcome", outcome))
	if err != nil {
		span.SetStatus(codes.Error, outcome)
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
