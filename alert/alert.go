// Package alert reports deliveries and endpoints that need a human: a
// delivery that ended failed or abandoned, or an endpoint the engine
// switched off.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/herald/id"
)

// Kind classifies an Alert.
type Kind string

const (
	KindDeliveryFailed    Kind = "delivery.failed"
	KindDeliveryAbandoned Kind = "delivery.abandoned"
	KindEndpointDisabled  Kind = "endpoint.disabled"
)

// Alert describes one terminal outcome.
type Alert struct {
	Kind           Kind      `json:"kind"`
	DeliveryID     id.ID     `json:"delivery_id,omitempty"`
	EventID        id.ID     `json:"event_id,omitempty"`
	EndpointID     id.ID     `json:"endpoint_id"`
	EventType      string    `json:"event_type,omitempty"`
	TenantID       string    `json:"tenant_id,omitempty"`
	URL            string    `json:"url,omitempty"`
	Attempts       int       `json:"attempts,omitempty"`
	LastStatusCode int       `json:"last_status_code,omitempty"`
	Reason         string    `json:"reason"`
	At             time.Time `json:"at"`
}

// Notifier receives alerts. Notify must not block for long; the delivery
// worker that raised the alert waits for it.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a Alert) error

func (f NotifierFunc) Notify(ctx context.Context, a Alert) error { return f(ctx, a) }

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to a structured logger at warn level.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, a Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "webhook alert",
		slog.String("kind", string(a.Kind)),
		slog.String("endpoint_id", a.EndpointID.String()),
		slog.String("delivery_id", a.DeliveryID.String()),
		slog.String("event_type", a.EventType),
		slog.Int("attempts", a.Attempts),
		slog.Int("last_status_code", a.LastStatusCode),
		slog.String("reason", a.Reason),
	)
	return nil
}
