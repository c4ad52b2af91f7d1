package observability

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data is %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.EventSubmitted(ctx, "request.approved", 3)
	m.EventSubmitted(ctx, "request.denied", 0)
	m.DeliveryReplayed(ctx)
	m.AttemptFinished(ctx, "success", 20*time.Millisecond)
	m.AttemptFinished(ctx, "http_error", 5*time.Millisecond)
	m.DeliveryFinished(ctx, "delivered")

	got := collect(t, reader)
	if n := sumOf(t, got["herald.events.submitted"]); n != 2 {
		t.Errorf("events = %d, want 2", n)
	}
	if n := sumOf(t, got["herald.deliveries.created"]); n != 4 {
		t.Errorf("deliveries created = %d, want 4", n)
	}
	if n := sumOf(t, got["herald.attempts"]); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
	if _, ok := got["herald.attempt.duration"]; !ok {
		t.Error("attempt duration histogram missing")
	}
}

func TestInFlight(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	done1 := m.AttemptStarted(ctx)
	done2 := m.AttemptStarted(ctx)
	done1()

	if n := sumOf(t, collect(t, reader)["herald.attempts.in_flight"]); n != 1 {
		t.Errorf("in flight = %d, want 1", n)
	}
	done2()
}

func TestBacklogGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	err := m.ObserveBacklog(func(context.Context) (map[string]int64, error) {
		return map[string]int64{"pending": 4, "retrying": 2}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	g, ok := collect(t, reader)["herald.deliveries.by_state"].Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatal("backlog gauge missing")
	}
	if len(g.DataPoints) != 2 {
		t.Errorf("data points = %d, want 2", len(g.DataPoints))
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.EventSubmitted(ctx, "x.y", 1)
	m.AttemptStarted(ctx)()
	m.AttemptFinished(ctx, "success", time.Second)
	m.DeliveryFinished(ctx, "failed")
	m.EndpointDisabled(ctx, "gone")
	if err := m.ObserveBacklog(nil); err != nil {
		t.Fatal(err)
	}
}
