package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
)

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	if _, err := s.mdb.NewInsert(toEventModel(evt)).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return event.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("herald/mongo: create event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	var m eventModel
	if err := s.mdb.NewFind(&m).Filter(bson.M{"_id": evtID.String()}).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, event.ErrNotFound
		}
		return nil, fmt.Errorf("herald/mongo: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel

	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenant_id"] = opts.TenantID
	}
	if opts.Type != "" {
		filter["type"] = opts.Type
	}
	if created := timeRange(opts.From, opts.To); created != nil {
		filter["created_at"] = created
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list events: %w", err)
	}

	out := make([]*event.Event, 0, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}
