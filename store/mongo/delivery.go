package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
)

func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	if _, err := s.mdb.NewInsert(toDeliveryModel(d)).Exec(ctx); err != nil {
		return fmt.Errorf("herald/mongo: enqueue: %w", err)
	}
	return nil
}

func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	models := make([]deliveryModel, len(ds))
	for i, d := range ds {
		models[i] = *toDeliveryModel(d)
	}
	if _, err := s.mdb.NewInsert(&models).Exec(ctx); err != nil {
		return fmt.Errorf("herald/mongo: enqueue batch: %w", err)
	}
	return nil
}

// ClaimDue claims one document per round trip. Each FindOneAndUpdate is
// atomic, so concurrent claimers never receive the same delivery.
func (s *Store) ClaimDue(ctx context.Context, at time.Time, limit int) ([]*delivery.Delivery, error) {
	at = at.UTC()
	token := uuid.NewString()
	col := s.mdb.Collection(colDeliveries)

	filter := bson.M{
		"state":           bson.M{"$in": bson.A{string(delivery.StatePending), string(delivery.StateRetrying)}},
		"next_attempt_at": bson.M{"$lte": at},
	}
	update := bson.M{"$set": bson.M{
		"state":       string(delivery.StateInFlight),
		"claim_token": token,
		"claimed_at":  at,
		"updated_at":  at,
	}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "next_attempt_at", Value: 1}})

	out := make([]*delivery.Delivery, 0, limit)
	for range limit {
		var m deliveryModel
		if err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m); err != nil {
			if isNoDocuments(err) {
				break
			}
			return out, fmt.Errorf("herald/mongo: claim due: %w", err)
		}
		d, err := fromDeliveryModel(&m)
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) SaveAttempt(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	res, err := s.mdb.NewUpdate((*deliveryModel)(nil)).
		Filter(bson.M{
			"_id":         m.ID,
			"state":       string(delivery.StateInFlight),
			"claim_token": m.ClaimToken,
		}).
		Set("state", m.State).
		Set("attempts", m.Attempts).
		Set("next_attempt_at", m.NextAttemptAt).
		Set("last_error", m.LastError).
		Set("last_status_code", m.LastStatusCode).
		Set("completed_at", m.CompletedAt).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: save attempt: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetDelivery(ctx, d.ID); errors.Is(err, delivery.ErrNotFound) {
			return err
		}
		return delivery.ErrClaimLost
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	var m deliveryModel
	if err := s.mdb.NewFind(&m).Filter(bson.M{"_id": delID.String()}).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("herald/mongo: get delivery: %w", err)
	}
	return fromDeliveryModel(&m)
}

func (s *Store) ListDeliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel

	filter := bson.M{}
	if !opts.EndpointID.IsNil() {
		filter["endpoint_id"] = opts.EndpointID.String()
	}
	if !opts.EventID.IsNil() {
		filter["event_id"] = opts.EventID.String()
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}
	if created := timeRange(opts.From, opts.To); created != nil {
		filter["created_at"] = created
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list deliveries: %w", err)
	}

	out := make([]*delivery.Delivery, 0, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) CountByState(ctx context.Context) (map[delivery.State]int64, error) {
	cur, err := s.mdb.Collection(colDeliveries).Aggregate(ctx, bson.A{
		bson.M{"$group": bson.M{"_id": "$state", "n": bson.M{"$sum": 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("herald/mongo: count by state: %w", err)
	}
	var rows []struct {
		State string `bson:"_id"`
		N     int64  `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("herald/mongo: count by state: %w", err)
	}
	counts := make(map[delivery.State]int64, len(rows))
	for _, r := range rows {
		counts[delivery.State(r.State)] = r.N
	}
	return counts, nil
}

func (s *Store) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res, err := s.mdb.Collection(colDeliveries).UpdateMany(ctx,
		bson.M{
			"state":      string(delivery.StateInFlight),
			"claimed_at": bson.M{"$lt": claimedBefore.UTC()},
		},
		bson.M{"$set": bson.M{
			"state":      string(delivery.StateRetrying),
			"updated_at": now(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("herald/mongo: requeue stale: %w", err)
	}
	return res.ModifiedCount, nil
}

// timeRange builds an inclusive created_at filter, or nil when unbounded.
func timeRange(from, to *time.Time) bson.M {
	if from == nil && to == nil {
		return nil
	}
	r := bson.M{}
	if from != nil {
		r["$gte"] = from.UTC()
	}
	if to != nil {
		r["$lte"] = to.UTC()
	}
	return r
}
