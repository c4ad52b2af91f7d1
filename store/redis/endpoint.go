package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/store"
)

// endpointModel is the stored document. The consecutive failure counter
// lives under its own key so INCR can bump it atomically.
type endpointModel struct {
	ID                      string            `json:"id"`
	TenantID                string            `json:"tenant_id"`
	URL                     string            `json:"url"`
	Description             string            `json:"description"`
	Secret                  string            `json:"secret"`
	PreviousSecret          string            `json:"previous_secret,omitempty"`
	PreviousSecretExpiresAt *time.Time        `json:"previous_secret_expires_at,omitempty"`
	EventTypes              []string          `json:"event_types"`
	Headers                 map[string]string `json:"headers,omitempty"`
	Enabled                 bool              `json:"enabled"`
	DisabledReason          string            `json:"disabled_reason,omitempty"`
	MaxAttempts             int               `json:"max_attempts"`
	RateLimit               int               `json:"rate_limit"`
	Metadata                map[string]string `json:"metadata,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	return &endpointModel{
		ID:                      ep.ID.String(),
		TenantID:                ep.TenantID,
		URL:                     ep.URL,
		Description:             ep.Description,
		Secret:                  ep.Secret,
		PreviousSecret:          ep.PreviousSecret,
		PreviousSecretExpiresAt: ep.PreviousSecretExpiresAt,
		EventTypes:              ep.EventTypes,
		Headers:                 ep.Headers,
		Enabled:                 ep.Enabled,
		DisabledReason:          ep.DisabledReason,
		MaxAttempts:             ep.MaxAttempts,
		RateLimit:               ep.RateLimit,
		Metadata:                ep.Metadata,
		CreatedAt:               ep.CreatedAt,
		UpdatedAt:               ep.UpdatedAt,
	}
}

func fromEndpointModel(m *endpointModel, failures int) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}
	return &endpoint.Endpoint{
		Entity:                  entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                      epID,
		TenantID:                m.TenantID,
		URL:                     m.URL,
		Description:             m.Description,
		Secret:                  m.Secret,
		PreviousSecret:          m.PreviousSecret,
		PreviousSecretExpiresAt: m.PreviousSecretExpiresAt,
		EventTypes:              m.EventTypes,
		Headers:                 m.Headers,
		Enabled:                 m.Enabled,
		DisabledReason:          m.DisabledReason,
		ConsecutiveFailures:     failures,
		MaxAttempts:             m.MaxAttempts,
		RateLimit:               m.RateLimit,
		Metadata:                m.Metadata,
	}, nil
}

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)
	if err := s.setEntity(ctx, entityKey(prefixEndpoint, m.ID), m); err != nil {
		return fmt.Errorf("herald/redis: create endpoint: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	created := goredis.Z{Score: score(m.CreatedAt), Member: m.ID}
	pipe.ZAdd(ctx, zEndpointAll, created)
	pipe.ZAdd(ctx, zEndpointTenant+m.TenantID, created)
	pipe.Set(ctx, entityKey(prefixFailures, m.ID), ep.ConsecutiveFailures, 0)
	if m.Enabled {
		pipe.SAdd(ctx, enabledSetKey(m.TenantID), m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: create endpoint indexes: %w", err)
	}
	return nil
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	var m endpointModel
	if err := s.getEntity(ctx, entityKey(prefixEndpoint, epID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, endpoint.ErrNotFound
		}
		return nil, fmt.Errorf("herald/redis: get endpoint: %w", err)
	}
	failures, err := s.rdb.Get(ctx, entityKey(prefixFailures, m.ID)).Int()
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("herald/redis: get endpoint failures: %w", err)
	}
	return fromEndpointModel(&m, failures)
}

// mutateEndpoint applies fn to the stored document under WATCH and writes
// it back, retrying when a concurrent writer got there first.
func (s *Store) mutateEndpoint(ctx context.Context, epID id.ID, fn func(m *endpointModel, pipe goredis.Pipeliner)) error {
	key := entityKey(prefixEndpoint, epID.String())
	txf := func(tx *goredis.Tx) error {
		var m endpointModel
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if isNotFound(err) {
				return endpoint.ErrNotFound
			}
			return err
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			fn(&m, pipe)
			m.UpdatedAt = now()
			out, err := json.Marshal(&m)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for range 10 {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("herald/redis: endpoint %s: too much contention", epID)
}

func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	next := toEndpointModel(ep)
	err := s.mutateEndpoint(ctx, ep.ID, func(m *endpointModel, _ goredis.Pipeliner) {
		next.TenantID, next.CreatedAt = m.TenantID, m.CreatedAt
		next.Enabled, next.DisabledReason = m.Enabled, m.DisabledReason
		*m = *next
	})
	if err != nil && !errors.Is(err, endpoint.ErrNotFound) {
		return fmt.Errorf("herald/redis: update endpoint: %w", err)
	}
	return err
}

func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	key := zEndpointAll
	if tenantID != "" {
		key = zEndpointTenant + tenantID
	}
	ids, err := s.newestFirst(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list endpoints: %w", err)
	}

	out := make([]*endpoint.Endpoint, 0, len(ids))
	for _, raw := range ids {
		ep, err := s.endpointByString(ctx, raw)
		if err != nil {
			return nil, err
		}
		if ep == nil || (opts.Enabled != nil && ep.Enabled != *opts.Enabled) {
			continue
		}
		out = append(out, ep)
	}
	return store.Paginate(out, opts.Offset, opts.Limit), nil
}

func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	ids, err := s.rdb.SMembers(ctx, enabledSetKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: resolve endpoints: %w", err)
	}

	out := make([]*endpoint.Endpoint, 0, len(ids))
	for _, raw := range ids {
		ep, err := s.endpointByString(ctx, raw)
		if err != nil {
			return nil, err
		}
		if ep != nil && ep.Enabled && ep.Subscribes(eventType) {
			out = append(out, ep)
		}
	}
	slices.SortFunc(out, func(a, b *endpoint.Endpoint) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// endpointByString loads an endpoint named by an index member. A member
// whose document is gone yields nil.
func (s *Store) endpointByString(ctx context.Context, raw string) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(raw)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: bad endpoint index member %q: %w", raw, err)
	}
	ep, err := s.GetEndpoint(ctx, epID)
	if errors.Is(err, endpoint.ErrNotFound) {
		return nil, nil
	}
	return ep, err
}

func (s *Store) SetEnabled(ctx context.Context, epID id.ID, enabled bool, reason string) error {
	err := s.mutateEndpoint(ctx, epID, func(m *endpointModel, pipe goredis.Pipeliner) {
		m.Enabled = enabled
		m.DisabledReason = reason
		if enabled {
			m.DisabledReason = ""
			pipe.SAdd(ctx, enabledSetKey(m.TenantID), m.ID)
			pipe.Set(ctx, entityKey(prefixFailures, m.ID), 0, 0)
		} else {
			pipe.SRem(ctx, enabledSetKey(m.TenantID), m.ID)
		}
	})
	if err != nil && !errors.Is(err, endpoint.ErrNotFound) {
		return fmt.Errorf("herald/redis: set enabled: %w", err)
	}
	return err
}

func (s *Store) IncrementFailures(ctx context.Context, epID id.ID) (int, error) {
	if err := s.endpointExists(ctx, epID); err != nil {
		return 0, err
	}
	n, err := s.rdb.Incr(ctx, entityKey(prefixFailures, epID.String())).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: increment failures: %w", err)
	}
	return int(n), nil
}

func (s *Store) ResetFailures(ctx context.Context, epID id.ID) error {
	if err := s.endpointExists(ctx, epID); err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, entityKey(prefixFailures, epID.String()), 0, 0).Err(); err != nil {
		return fmt.Errorf("herald/redis: reset failures: %w", err)
	}
	return nil
}

func (s *Store) endpointExists(ctx context.Context, epID id.ID) error {
	n, err := s.rdb.Exists(ctx, entityKey(prefixEndpoint, epID.String())).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: endpoint exists: %w", err)
	}
	if n == 0 {
		return endpoint.ErrNotFound
	}
	return nil
}
