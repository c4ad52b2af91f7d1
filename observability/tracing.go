package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans around delivery attempts. A nil *Tracer uses a
// no-op span.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer from the global tracer provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// StartAttempt opens the span for one delivery attempt.
func (t *Tracer) StartAttempt(ctx context.Context, deliveryID, eventID, endpointID string, attempt int) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return t.tracer.Start(ctx, "herald.delivery.attempt",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("herald.delivery_id", deliveryID),
			attribute.String("herald.event_id", eventID),
			attribute.String("herald.endpoint_id", endpointID),
			attribute.Int("herald.attempt", attempt),
		),
	)
}

// EndAttempt records the attempt result on span and ends it.
func EndAttempt(span trace.Span, state string, statusCode int, errMsg string) {
	span.SetAttributes(attribute.String("herald.state", state))
	if statusCode > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
	}
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}
