package herald

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// SubmitEvent validates evt, persists it and creates one pending delivery
// for every enabled endpoint of the tenant subscribed to its type. It
// returns the new delivery IDs once they are stored; it does not wait for
// delivery. No subscribed endpoint is a valid outcome with no IDs. A
// repeated idempotency key returns no IDs and no error, and leaves evt as
// it was passed in.
//
// On success evt carries its assigned ID and timestamps.
func (h *Herald) SubmitEvent(ctx context.Context, evt *event.Event) ([]id.ID, error) {
	if evt == nil {
		return nil, &ValidationError{Field: "event", Message: "required"}
	}
	if evt.TenantID == "" {
		return nil, &ValidationError{Field: "tenant_id", Message: "required"}
	}

	et, err := h.catalog.Lookup(ctx, evt.Type)
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, catalog.ErrDeprecated):
		return nil, invalid("type", err)
	case err != nil:
		return nil, fmt.Errorf("herald: look up event type: %w", err)
	}

	data, err := event.Canonical(evt.Data)
	if err != nil {
		return nil, invalid("data", err)
	}
	if err := h.catalog.ValidatePayload(et, data); err != nil {
		return nil, invalid("data", err)
	}

	submitted := *evt
	now := h.now().UTC()
	evt.Entity = entity.Entity{CreatedAt: now, UpdatedAt: now}
	evt.ID = id.NewEventID()
	evt.Data = data
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = now
	}

	logger := h.logger.With(
		slog.String("event_id", evt.ID.String()),
		slog.String("event_type", evt.Type),
		slog.String("tenant_id", evt.TenantID),
	)

	if err := h.store.CreateEvent(ctx, evt); err != nil {
		if errors.Is(err, event.ErrDuplicateIdempotencyKey) {
			logger.DebugContext(ctx, "duplicate submission ignored", slog.String("idempotency_key", evt.IdempotencyKey))
			*evt = submitted
			return []id.ID{}, nil
		}
		return nil, fmt.Errorf("herald: persist event: %w", err)
	}

	endpoints, err := h.store.Resolve(ctx, evt.TenantID, evt.Type)
	if err != nil {
		return nil, fmt.Errorf("herald: resolve endpoints: %w", err)
	}

	ds := make([]*delivery.Delivery, 0, len(endpoints))
	ids := make([]id.ID, 0, len(endpoints))
	for _, ep := range endpoints {
		d := delivery.New(evt.ID, ep.ID, ep.AttemptLimit(h.config.MaxAttempts), now)
		ds = append(ds, d)
		ids = append(ids, d.ID)
	}
	if err := h.scheduler.Submit(ctx, ds); err != nil {
		return nil, fmt.Errorf("herald: enqueue deliveries: %w", err)
	}

	h.metrics.EventSubmitted(ctx, evt.Type, len(ds))
	logger.DebugContext(ctx, "event submitted", slog.Int("deliveries", len(ds)))
	return ids, nil
}

// GetEvent returns a submitted event.
func (h *Herald) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	return h.store.GetEvent(ctx, evtID)
}

// ListEvents returns submitted events, newest first.
func (h *Herald) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	return h.store.ListEvents(ctx, opts)
}
