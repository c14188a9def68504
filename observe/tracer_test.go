package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingTracer() (Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return newTracer(tp.Tracer("test")), rec
}

func attrMap(kvs []attribute.KeyValue) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

func TestCallMeta_Names(t *testing.T) {
	meta := CallMeta{Backend: "finance", Tool: "get_budget"}
	if got := meta.ID(); got != "finance.get_budget" {
		t.Errorf("ID() = %q", got)
	}
	if got := meta.SpanName(); got != "backend.call.finance.get_budget" {
		t.Errorf("SpanName() = %q", got)
	}
}

func TestTracer_SpanAttributes(t *testing.T) {
	tr, rec := newRecordingTracer()

	_, span := tr.StartSpan(context.Background(), CallMeta{Backend: "hr", Tool: "get_employee", Kind: "lookup", Subject: "u-7"})
	tr.EndSpan(span, "success", nil)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	s := spans[0]
	if s.SpanKind() != trace.SpanKindClient {
		t.Errorf("SpanKind = %v, want client", s.SpanKind())
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("Status = %v, want Ok", s.Status().Code)
	}
	attrs := attrMap(s.Attributes())
	want := map[string]string{
		"backend.name": "hr",
		"tool.name":    "get_employee",
		"tool.kind":    "lookup",
		"enduser.id":   "u-7",
		"call.outcome": "success",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestTracer_ErrorRecording(t *testing.T) {
	tr, rec := newRecordingTracer()

	_, span := tr.StartSpan(context.Background(), CallMeta{Backend: "hr", Tool: "x"})
	tr.EndSpan(span, "BACKEND_UNAVAILABLE", errors.New("dial tcp: refused"))

	s := rec.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("Status = %v, want Error", s.Status().Code)
	}
	if s.Status().Description != "BACKEND_UNAVAILABLE" {
		t.Errorf("Status description = %q", s.Status().Description)
	}
	if len(s.Events()) == 0 {
		t.Error("error event not recorded")
	}
}

func TestTracer_ContextCarriesSpan(t *testing.T) {
	tr, _ := newRecordingTracer()

	ctx, span := tr.StartSpan(context.Background(), CallMeta{Backend: "hr", Tool: "x"})
	defer span.End()

	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Error("returned context does not carry the span")
	}
}
