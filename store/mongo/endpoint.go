package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
)

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	if _, err := s.mdb.NewInsert(toEndpointModel(ep)).Exec(ctx); err != nil {
		return fmt.Errorf("herald/mongo: create endpoint: %w", err)
	}
	return nil
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	var m endpointModel
	if err := s.mdb.NewFind(&m).Filter(bson.M{"_id": epID.String()}).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, endpoint.ErrNotFound
		}
		return nil, fmt.Errorf("herald/mongo: get endpoint: %w", err)
	}
	return fromEndpointModel(&m)
}

func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)
	res, err := s.mdb.NewUpdate((*endpointModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		Set("url", m.URL).
		Set("description", m.Description).
		Set("secret", m.Secret).
		Set("previous_secret", m.PreviousSecret).
		Set("previous_secret_expires_at", m.PreviousSecretExpiresAt).
		Set("event_types", m.EventTypes).
		Set("headers", m.Headers).
		Set("max_attempts", m.MaxAttempts).
		Set("rate_limit", m.RateLimit).
		Set("metadata", m.Metadata).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: update endpoint: %w", err)
	}
	if res.MatchedCount() == 0 {
		return endpoint.ErrNotFound
	}
	return nil
}

func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel

	filter := bson.M{}
	if tenantID != "" {
		filter["tenant_id"] = tenantID
	}
	if opts.Enabled != nil {
		filter["enabled"] = *opts.Enabled
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
		return nil, fmt.Errorf("herald/mongo: list endpoints: %w", err)
	}
	return fromEndpointModels(models)
}

func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"tenant_id": tenantID, "enabled": true}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: resolve endpoints: %w", err)
	}

	eps, err := fromEndpointModels(models)
	if err != nil {
		return nil, err
	}
	out := eps[:0]
	for _, ep := range eps {
		if ep.Subscribes(eventType) {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (s *Store) SetEnabled(ctx context.Context, epID id.ID, enabled bool, reason string) error {
	q := s.mdb.NewUpdate((*endpointModel)(nil)).
		Filter(bson.M{"_id": epID.String()}).
		Set("enabled", enabled).
		Set("updated_at", now())
	if enabled {
		q = q.Set("disabled_reason", "").Set("consecutive_failures", 0)
	} else {
		q = q.Set("disabled_reason", reason)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: set enabled: %w", err)
	}
	if res.MatchedCount() == 0 {
		return endpoint.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementFailures(ctx context.Context, epID id.ID) (int, error) {
	var m endpointModel
	err := s.mdb.Collection(colEndpoints).FindOneAndUpdate(ctx,
		bson.M{"_id": epID.String()},
		bson.M{"$inc": bson.M{"consecutive_failures": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return 0, endpoint.ErrNotFound
		}
		return 0, fmt.Errorf("herald/mongo: increment failures: %w", err)
	}
	return m.ConsecutiveFailures, nil
}

func (s *Store) ResetFailures(ctx context.Context, epID id.ID) error {
	res, err := s.mdb.NewUpdate((*endpointModel)(nil)).
		Filter(bson.M{"_id": epID.String()}).
		Set("consecutive_failures", 0).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: reset failures: %w", err)
	}
	if res.MatchedCount() == 0 {
		return endpoint.ErrNotFound
	}
	return nil
}

func fromEndpointModels(models []endpointModel) ([]*endpoint.Endpoint, error) {
	out := make([]*endpoint.Endpoint, 0, len(models))
	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}
