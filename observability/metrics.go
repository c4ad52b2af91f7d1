// Package observability wires herald into OpenTelemetry metrics and traces.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/xraph/herald"

// Metrics records delivery activity. A nil *Metrics records nothing.
type Metrics struct {
	meter metric.Meter

	eventsSubmitted    metric.Int64Counter
	deliveriesCreated  metric.Int64Counter
	attempts           metric.Int64Counter
	attemptDuration    metric.Float64Histogram
	deliveriesFinished metric.Int64Counter
	endpointsDisabled  metric.Int64Counter
	inFlight           metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	m := &Metrics{meter: meter}

	var err error
	if m.eventsSubmitted, err = meter.Int64Counter("herald.events.submitted",
		metric.WithDescription("Events accepted for fan-out"),
		metric.WithUnit("{events}")); err != nil {
		return nil, fmt.Errorf("observability: events counter: %w", err)
	}
	if m.deliveriesCreated, err = meter.Int64Counter("herald.deliveries.created",
		metric.WithDescription("Delivery records created by fan-out or replay"),
		metric.WithUnit("{deliveries}")); err != nil {
		return nil, fmt.Errorf("observability: deliveries counter: %w", err)
	}
	if m.attempts, err = meter.Int64Counter("herald.attempts",
		metric.WithDescription("HTTP delivery attempts by outcome"),
		metric.WithUnit("{attempts}")); err != nil {
		return nil, fmt.Errorf("observability: attempts counter: %w", err)
	}
	if m.attemptDuration, err = meter.Float64Histogram("herald.attempt.duration",
		metric.WithDescription("Latency of HTTP delivery attempts"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("observability: attempt histogram: %w", err)
	}
	if m.deliveriesFinished, err = meter.Int64Counter("herald.deliveries.finished",
		metric.WithDescription("Deliveries reaching a terminal state"),
		metric.WithUnit("{deliveries}")); err != nil {
		return nil, fmt.Errorf("observability: finished counter: %w", err)
	}
	if m.endpointsDisabled, err = meter.Int64Counter("herald.endpoints.disabled",
		metric.WithDescription("Endpoints disabled by the delivery engine"),
		metric.WithUnit("{endpoints}")); err != nil {
		return nil, fmt.Errorf("observability: disabled counter: %w", err)
	}
	if m.inFlight, err = meter.Int64UpDownCounter("herald.attempts.in_flight",
		metric.WithDescription("Attempts currently being sent"),
		metric.WithUnit("{attempts}")); err != nil {
		return nil, fmt.Errorf("observability: in-flight counter: %w", err)
	}
	return m, nil
}

// ObserveBacklog registers a gauge reporting delivery counts per state,
// read from count on every collection.
func (m *Metrics) ObserveBacklog(count func(ctx context.Context) (map[string]int64, error)) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.Int64ObservableGauge("herald.deliveries.by_state",
		metric.WithDescription("Stored deliveries per state"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			counts, err := count(ctx)
			if err != nil {
				return err
			}
			for state, n := range counts {
				o.Observe(n, metric.WithAttributes(attribute.String("state", state)))
			}
			return nil
		}),
	)
	return err
}

func (m *Metrics) EventSubmitted(ctx context.Context, eventType string, fanout int) {
	if m == nil {
		return
	}
	m.eventsSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
	if fanout > 0 {
		m.deliveriesCreated.Add(ctx, int64(fanout), metric.WithAttributes(attribute.String("source", "fanout")))
	}
}

func (m *Metrics) DeliveryReplayed(ctx context.Context) {
	if m == nil {
		return
	}
	m.deliveriesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "replay")))
}

// AttemptStarted returns a func to call when the attempt is over.
func (m *Metrics) AttemptStarted(ctx context.Context) func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Add(ctx, 1)
	return func() { m.inFlight.Add(ctx, -1) }
}

func (m *Metrics) AttemptFinished(ctx context.Context, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.attempts.Add(ctx, 1, attrs)
	m.attemptDuration.Record(ctx, took.Seconds(), attrs)
}

func (m *Metrics) DeliveryFinished(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.deliveriesFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

func (m *Metrics) EndpointDisabled(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.endpointsDisabled.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
