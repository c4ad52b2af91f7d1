package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/store"
)

// eventModel keeps Data as a JSON string so the stored bytes are exactly
// the canonical body; embedding it as raw JSON would let encoders reformat it.
type eventModel struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	TenantID       string    `json:"tenant_id"`
	Data           string    `json:"data"`
	OccurredAt     time.Time `json:"occurred_at"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:             evt.ID.String(),
		Type:           evt.Type,
		TenantID:       evt.TenantID,
		Data:           string(evt.Data),
		OccurredAt:     evt.OccurredAt,
		IdempotencyKey: evt.IdempotencyKey,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	return &event.Event{
		Entity:         entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             evtID,
		Type:           m.Type,
		TenantID:       m.TenantID,
		Data:           json.RawMessage(m.Data),
		OccurredAt:     m.OccurredAt,
		IdempotencyKey: m.IdempotencyKey,
	}, nil
}

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)

	if m.IdempotencyKey != "" {
		ok, err := s.rdb.SetNX(ctx, idemKey(m.TenantID, m.IdempotencyKey), m.ID, 0).Result()
		if err != nil {
			return fmt.Errorf("herald/redis: create event idempotency check: %w", err)
		}
		if !ok {
			return event.ErrDuplicateIdempotencyKey
		}
	}

	if err := s.setEntity(ctx, entityKey(prefixEvent, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: create event: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	created := goredis.Z{Score: score(m.CreatedAt), Member: m.ID}
	pipe.ZAdd(ctx, zEventAll, created)
	pipe.ZAdd(ctx, zEventTenant+m.TenantID, created)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: create event indexes: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	var m eventModel
	if err := s.getEntity(ctx, entityKey(prefixEvent, evtID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, event.ErrNotFound
		}
		return nil, fmt.Errorf("herald/redis: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	key := zEventAll
	if opts.TenantID != "" {
		key = zEventTenant + opts.TenantID
	}
	ids, err := s.rdb.ZRevRangeByScore(ctx, key, scoreRange(opts.From, opts.To)).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list events: %w", err)
	}

	out := make([]*event.Event, 0, len(ids))
	for _, raw := range ids {
		evtID, err := id.ParseEventID(raw)
		if err != nil {
			return nil, fmt.Errorf("herald/redis: bad event index member %q: %w", raw, err)
		}
		evt, err := s.GetEvent(ctx, evtID)
		if errors.Is(err, event.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.Type != "" && evt.Type != opts.Type {
			continue
		}
		out = append(out, evt)
	}
	return store.Paginate(out, opts.Offset, opts.Limit), nil
}

// scoreRange turns optional time bounds into an inclusive ZRANGEBYSCORE range.
func scoreRange(from, to *time.Time) *goredis.ZRangeBy {
	lo, hi := math.Inf(-1), math.Inf(1)
	if from != nil {
		lo = score(*from)
	}
	if to != nil {
		hi = score(*to)
	}
	return &goredis.ZRangeBy{Min: formatScore(lo), Max: formatScore(hi)}
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	}
	return fmt.Sprintf("%.0f", f)
}
