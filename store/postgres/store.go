// Package postgres is the PostgreSQL store, built on grove's pgdriver.
// Claims use FOR UPDATE SKIP LOCKED so any number of engine processes can
// share one database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	heraldstore "github.com/xraph/herald/store"
)

var _ heraldstore.Store = (*Store)(nil)

// Store implements store.Store on PostgreSQL.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New returns a Store over an open grove database using the pg driver.
func New(db *grove.DB) *Store {
	return &Store{db: db, pg: pgdriver.Unwrap(db)}
}

// Open connects to dsn and returns a Store over the new connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	drv := pgdriver.New()
	if err := drv.Open(ctx, dsn); err != nil {
		return nil, fmt.Errorf("herald/postgres: open: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: open: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate applies Migrations.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("herald/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("herald/postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// ==================== Catalog ====================

func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	_, err := s.pg.NewInsert(toEventTypeModel(et)).
		OnConflict("(name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("group_name = EXCLUDED.group_name").
		Set("version = EXCLUDED.version").
		Set("schema = EXCLUDED.schema").
		Set("example = EXCLUDED.example").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: register type: %w", err)
	}
	return nil
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	if err := s.pg.NewSelect(m).Where("name = $1", name).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get type: %w", err)
	}
	return fromEventTypeModel(m)
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	var models []eventTypeModel
	q := s.pg.NewSelect(&models)
	if opts.Group != "" {
		q = q.Where("group_name = $1", opts.Group)
	}
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = false")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/postgres: list types: %w", err)
	}

	out := make([]*catalog.EventType, len(models))
	for i := range models {
		et, err := fromEventTypeModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = et
	}
	return out, nil
}

func (s *Store) DeleteType(ctx context.Context, name string) error {
	now := time.Now().UTC()
	res, err := s.pg.NewUpdate((*eventTypeModel)(nil)).
		Set("is_deprecated = true").
		Set("deprecated_at = COALESCE(deprecated_at, $1)", now).
		Set("updated_at = $2", now).
		Where("name = $3", name).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: deprecate type: %w", err)
	}
	return mustAffect(res, catalog.ErrNotFound)
}

// ==================== Endpoints ====================

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	if _, err := s.pg.NewInsert(toEndpointModel(ep)).Exec(ctx); err != nil {
		return fmt.Errorf("herald/postgres: create endpoint: %w", err)
	}
	return nil
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	m := new(endpointModel)
	if err := s.pg.NewSelect(m).Where("id = $1", epID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, endpoint.ErrNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get endpoint: %w", err)
	}
	return fromEndpointModel(m)
}

func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)
	headers, err := json.Marshal(m.Headers)
	if err != nil {
		return fmt.Errorf("herald/postgres: encode headers: %w", err)
	}
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("herald/postgres: encode metadata: %w", err)
	}

	res, err := s.pg.NewUpdate((*endpointModel)(nil)).
		Set("url = $1", m.URL).
		Set("description = $2", m.Description).
		Set("secret = $3", m.Secret).
		Set("previous_secret = $4", m.PreviousSecret).
		Set("previous_secret_expires_at = $5", m.PreviousSecretExpiresAt).
		Set("event_types = $6", m.EventTypes).
		Set("headers = $7::jsonb", string(headers)).
		Set("max_attempts = $8", m.MaxAttempts).
		Set("rate_limit = $9", m.RateLimit).
		Set("metadata = $10::jsonb", string(metadata)).
		Set("updated_at = $11", time.Now().UTC()).
		Where("id = $12", m.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: update endpoint: %w", err)
	}
	return mustAffect(res, endpoint.ErrNotFound)
}

func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	q := s.pg.NewSelect(&models)
	argIdx := 0
	if tenantID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("tenant_id = $%d", argIdx), tenantID)
	}
	if opts.Enabled != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("enabled = $%d", argIdx), *opts.Enabled)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.OrderExpr("created_at DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/postgres: list endpoints: %w", err)
	}
	return fromEndpointModels(models)
}

// Resolve filters candidates in Go: subscription patterns support
// wildcards that have no index-friendly SQL form.
func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	if err := s.pg.NewSelect(&models).
		Where("tenant_id = $1", tenantID).
		Where("enabled = true").
		OrderExpr("created_at ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/postgres: resolve endpoints: %w", err)
	}
	models = slices.DeleteFunc(models, func(m endpointModel) bool {
		return !catalog.MatchAny(m.EventTypes, eventType)
	})
	return fromEndpointModels(models)
}

func (s *Store) SetEnabled(ctx context.Context, epID id.ID, enabled bool, reason string) error {
	if enabled {
		reason = ""
	}
	q := s.pg.NewUpdate((*endpointModel)(nil)).
		Set("enabled = $1", enabled).
		Set("disabled_reason = $2", reason).
		Set("updated_at = $3", time.Now().UTC())
	if enabled {
		q = q.Set("consecutive_failures = 0")
	}
	res, err := q.Where("id = $4", epID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: set enabled: %w", err)
	}
	return mustAffect(res, endpoint.ErrNotFound)
}

func (s *Store) IncrementFailures(ctx context.Context, epID id.ID) (int, error) {
	var models []endpointModel
	err := s.pg.NewRaw(`
		UPDATE herald_endpoints
		SET consecutive_failures = consecutive_failures + 1
		WHERE id = $1
		RETURNING *
	`, epID.String()).Scan(ctx, &models)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: increment failures: %w", err)
	}
	if len(models) == 0 {
		return 0, endpoint.ErrNotFound
	}
	return models[0].ConsecutiveFailures, nil
}

func (s *Store) ResetFailures(ctx context.Context, epID id.ID) error {
	res, err := s.pg.NewUpdate((*endpointModel)(nil)).
		Set("consecutive_failures = 0").
		Where("id = $1", epID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: reset failures: %w", err)
	}
	return mustAffect(res, endpoint.ErrNotFound)
}

// ==================== Events ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	if evt.IdempotencyKey == "" {
		if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
			return fmt.Errorf("herald/postgres: create event: %w", err)
		}
		return nil
	}

	res, err := s.pg.NewInsert(m).
		OnConflict("(tenant_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: create event: %w", err)
	}
	return mustAffect(res, event.ErrDuplicateIdempotencyKey)
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	if err := s.pg.NewSelect(m).Where("id = $1", evtID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, event.ErrNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get event: %w", err)
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.TenantID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("tenant_id = $%d", argIdx), opts.TenantID)
	}
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), opts.Type)
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.OrderExpr("created_at DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/postgres: list events: %w", err)
	}

	out := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = evt
	}
	return out, nil
}

// ==================== Deliveries ====================

func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	if _, err := s.pg.NewInsert(toDeliveryModel(d)).Exec(ctx); err != nil {
		return fmt.Errorf("herald/postgres: enqueue: %w", err)
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
	if _, err := s.pg.NewInsert(&models).Exec(ctx); err != nil {
		return fmt.Errorf("herald/postgres: enqueue batch: %w", err)
	}
	return nil
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	err := s.pg.NewRaw(`
		UPDATE herald_deliveries
		SET state = 'in_flight', claim_token = $1, claimed_at = $2, updated_at = $2
		WHERE id IN (
			SELECT id FROM herald_deliveries
			WHERE state IN ('pending', 'retrying') AND next_attempt_at <= $2
			ORDER BY next_attempt_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, uuid.NewString(), now.UTC(), limit).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("herald/postgres: claim due: %w", err)
	}

	out, err := fromDeliveryModels(models)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *delivery.Delivery) int { return a.NextAttemptAt.Compare(b.NextAttemptAt) })
	return out, nil
}

func (s *Store) SaveAttempt(ctx context.Context, d *delivery.Delivery) error {
	attempts, err := json.Marshal(toDeliveryModel(d).Attempts)
	if err != nil {
		return fmt.Errorf("herald/postgres: encode attempts: %w", err)
	}
	res, err := s.pg.NewUpdate((*deliveryModel)(nil)).
		Set("state = $1", string(d.State)).
		Set("attempts = $2::jsonb", string(attempts)).
		Set("next_attempt_at = $3", d.NextAttemptAt).
		Set("last_error = $4", d.LastError).
		Set("last_status_code = $5", d.LastStatusCode).
		Set("completed_at = $6", d.CompletedAt).
		Set("updated_at = $7", time.Now().UTC()).
		Where("id = $8", d.ID.String()).
		Where("state = 'in_flight'").
		Where("claim_token = $9", d.ClaimToken).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/postgres: save attempt: %w", err)
	}
	if err := mustAffect(res, delivery.ErrClaimLost); err != nil {
		if _, getErr := s.GetDelivery(ctx, d.ID); errors.Is(getErr, delivery.ErrNotFound) {
			return getErr
		}
		return err
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	if err := s.pg.NewSelect(m).Where("id = $1", delID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("herald/postgres: get delivery: %w", err)
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListDeliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.EndpointID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("endpoint_id = $%d", argIdx), opts.EndpointID.String())
	}
	if !opts.EventID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("event_id = $%d", argIdx), opts.EventID.String())
	}
	if opts.State != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("state = $%d", argIdx), string(opts.State))
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.OrderExpr("created_at DESC, id DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/postgres: list deliveries: %w", err)
	}
	return fromDeliveryModels(models)
}

func (s *Store) CountByState(ctx context.Context) (map[delivery.State]int64, error) {
	counts := make(map[delivery.State]int64, len(delivery.States))
	for _, st := range delivery.States {
		n, err := s.pg.NewSelect((*deliveryModel)(nil)).
			Where("state = $1", string(st)).
			Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("herald/postgres: count %s: %w", st, err)
		}
		if n > 0 {
			counts[st] = n
		}
	}
	return counts, nil
}

func (s *Store) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res, err := s.pg.NewUpdate((*deliveryModel)(nil)).
		Set("state = 'retrying'").
		Set("updated_at = $1", time.Now().UTC()).
		Where("state = 'in_flight'").
		Where("claimed_at < $2", claimedBefore.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("herald/postgres: requeue stale: %w", err)
	}
	return res.RowsAffected()
}

// ==================== helpers ====================

func fromEndpointModels(models []endpointModel) ([]*endpoint.Endpoint, error) {
	out := make([]*endpoint.Endpoint, len(models))
	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = ep
	}
	return out, nil
}

func fromDeliveryModels(models []deliveryModel) ([]*delivery.Delivery, error) {
	out := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// mustAffect returns notFound when res touched no row.
func mustAffect(res interface{ RowsAffected() (int64, error) }, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
