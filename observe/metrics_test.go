package observe

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*metricsImpl, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("newMetrics() error = %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func counterTotal(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	meta := CallMeta{Backend: "hr", Tool: "list_employees", Kind: "list"}
	ctx := context.Background()

	m.RecordCall(ctx, meta, 20*time.Millisecond, "success", false)
	m.RecordCall(ctx, meta, 30*time.Millisecond, "success", false)
	m.RecordCall(ctx, meta, time.Second, "BACKEND_UNAVAILABLE", true)

	rm := collect(t, reader)
	if got := counterTotal(t, rm, "gateway.backend.calls"); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if got := counterTotal(t, rm, "gateway.backend.failures"); got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}

	hist := findMetric(rm, "gateway.backend.duration_ms")
	if hist == nil {
		t.Fatal("duration histogram not found")
	}
	var count uint64
	for _, dp := range hist.Data.(metricdata.Histogram[float64]).DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("histogram count = %d, want 3", count)
	}
}

func TestMetrics_OutcomeAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordCall(ctx, CallMeta{Backend: "hr", Tool: "t"}, time.Millisecond, "NOT_FOUND", true)

	sum := findMetric(collect(t, reader), "gateway.backend.calls").Data.(metricdata.Sum[int64])
	v, ok := sum.DataPoints[0].Attributes.Value("call.outcome")
	if !ok || v.AsString() != "NOT_FOUND" {
		t.Errorf("call.outcome = %v, want NOT_FOUND", v.AsString())
	}
}

func TestMetrics_RecordCircuit(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordCircuit(context.Background(), "finance", "closed", "open")

	if got := counterTotal(t, collect(t, reader), "gateway.circuit.transitions"); got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	m, reader := newTestMetrics(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordCall(context.Background(), CallMeta{Backend: "sales", Tool: "list_deals"}, time.Millisecond, "success", false)
		}()
	}
	wg.Wait()

	if got := counterTotal(t, collect(t, reader), "gateway.backend.calls"); got != 50 {
		t.Errorf("calls = %d, want 50", got)
	}
}
