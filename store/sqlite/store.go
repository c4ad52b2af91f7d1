// Package sqlite is the SQLite store, built on grove's sqlitedriver. SQLite
// serializes writers, so a single UPDATE ... RETURNING is an atomic claim.
// Timestamps are written in UTC so their text form sorts chronologically.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	heraldstore "github.com/xraph/herald/store"
)

var _ heraldstore.Store = (*Store)(nil)

// Store implements store.Store on SQLite.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New returns a Store over an open grove database using the sqlite driver.
func New(db *grove.DB) *Store {
	return &Store{db: db, sdb: sqlitedriver.Unwrap(db)}
}

// Open connects to dsn and returns a Store over the new connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	drv := sqlitedriver.New()
	if err := drv.Open(ctx, dsn); err != nil {
		return nil, fmt.Errorf("herald/sqlite: open: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		return nil, fmt.Errorf("herald/sqlite: open: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate applies Migrations.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("herald/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("herald/sqlite: migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func now() time.Time { return time.Now().UTC() }

// ==================== Catalog ====================

func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	_, err := s.sdb.NewInsert(toEventTypeModel(et)).
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
		return fmt.Errorf("herald/sqlite: register type: %w", err)
	}
	return nil
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	if err := s.sdb.NewSelect(m).Where("name = ?", name).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("herald/sqlite: get type: %w", err)
	}
	return fromEventTypeModel(m)
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	var models []eventTypeModel
	q := s.sdb.NewSelect(&models)
	if opts.Group != "" {
		q = q.Where("group_name = ?", opts.Group)
	}
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = 0")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/sqlite: list types: %w", err)
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
	t := now()
	res, err := s.sdb.NewUpdate((*eventTypeModel)(nil)).
		Set("is_deprecated = 1").
		Set("deprecated_at = COALESCE(deprecated_at, ?)", t).
		Set("updated_at = ?", t).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: deprecate type: %w", err)
	}
	return mustAffect(res, catalog.ErrNotFound)
}

// ==================== Endpoints ====================

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	if _, err := s.sdb.NewInsert(toEndpointModel(ep)).Exec(ctx); err != nil {
		return fmt.Errorf("herald/sqlite: create endpoint: %w", err)
	}
	return nil
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	m := new(endpointModel)
	if err := s.sdb.NewSelect(m).Where("id = ?", epID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, endpoint.ErrNotFound
		}
		return nil, fmt.Errorf("herald/sqlite: get endpoint: %w", err)
	}
	return fromEndpointModel(m)
}

func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)
	res, err := s.sdb.NewUpdate((*endpointModel)(nil)).
		Set("url = ?", m.URL).
		Set("description = ?", m.Description).
		Set("secret = ?", m.Secret).
		Set("previous_secret = ?", m.PreviousSecret).
		Set("previous_secret_expires_at = ?", m.PreviousSecretExpiresAt).
		Set("event_types = ?", m.EventTypes).
		Set("headers = ?", m.Headers).
		Set("max_attempts = ?", m.MaxAttempts).
		Set("rate_limit = ?", m.RateLimit).
		Set("metadata = ?", m.Metadata).
		Set("updated_at = ?", now()).
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: update endpoint: %w", err)
	}
	return mustAffect(res, endpoint.ErrNotFound)
}

func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	q := s.sdb.NewSelect(&models)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if opts.Enabled != nil {
		q = q.Where("enabled = ?", *opts.Enabled)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.OrderExpr("created_at DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/sqlite: list endpoints: %w", err)
	}
	return fromEndpointModels(models)
}

func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	if err := s.sdb.NewSelect(&models).
		Where("tenant_id = ?", tenantID).
		Where("enabled = 1").
		OrderExpr("created_at ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/sqlite: resolve endpoints: %w", err)
	}
	eps, err := fromEndpointModels(models)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(eps, func(ep *endpoint.Endpoint) bool {
		return !catalog.MatchAny(ep.EventTypes, eventType)
	}), nil
}

func (s *Store) SetEnabled(ctx context.Context, epID id.ID, enabled bool, reason string) error {
	if enabled {
		reason = ""
	}
	q := s.sdb.NewUpdate((*endpointModel)(nil)).
		Set("enabled = ?", enabled).
		Set("disabled_reason = ?", reason).
		Set("updated_at = ?", now())
	if enabled {
		q = q.Set("consecutive_failures = 0")
	}
	res, err := q.Where("id = ?", epID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: set enabled: %w", err)
	}
	return mustAffect(res, endpoint.ErrNotFound)
}

func (s *Store) IncrementFailures(ctx context.Context, epID id.ID) (int, error) {
	var models []endpointModel
	err := s.sdb.NewRaw(`
		UPDATE herald_endpoints
		SET consecutive_failures = consecutive_failures + 1
		WHERE id = ?
		RETURNING *
	`, epID.String()).Scan(ctx, &models)
	if err != nil {
		return 0, fmt.Errorf("herald/sqlite: increment failures: %w", err)
	}
	if len(models) == 0 {
		return 0, endpoint.ErrNotFound
	}
	return models[0].ConsecutiveFailures, nil
}

func (s *Store) ResetFailures(ctx context.Context, epID id.ID) error {
	res, err := s.sdb.NewUpdate((*endpointModel)(nil)).
		Set("consecutive_failures = 0").
		Where("id = ?", epID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: reset failures: %w", err)
	}
	return mustAffect(res, endpoint.ErrNotFound)
}

// ==================== Events ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	if evt.IdempotencyKey == "" {
		if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
			return fmt.Errorf("herald/sqlite: create event: %w", err)
		}
		return nil
	}
	res, err := s.sdb.NewInsert(m).
		OnConflict("(tenant_id, idempotency_key) WHERE idempotency_key != '' DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: create event: %w", err)
	}
	return mustAffect(res, event.ErrDuplicateIdempotencyKey)
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	if err := s.sdb.NewSelect(m).Where("id = ?", evtID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, event.ErrNotFound
		}
		return nil, fmt.Errorf("herald/sqlite: get event: %w", err)
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.sdb.NewSelect(&models)
	if opts.TenantID != "" {
		q = q.Where("tenant_id = ?", opts.TenantID)
	}
	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", opts.From.UTC())
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", opts.To.UTC())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.OrderExpr("created_at DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/sqlite: list events: %w", err)
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
	if _, err := s.sdb.NewInsert(toDeliveryModel(d)).Exec(ctx); err != nil {
		return fmt.Errorf("herald/sqlite: enqueue: %w", err)
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
	if _, err := s.sdb.NewInsert(&models).Exec(ctx); err != nil {
		return fmt.Errorf("herald/sqlite: enqueue batch: %w", err)
	}
	return nil
}

func (s *Store) ClaimDue(ctx context.Context, at time.Time, limit int) ([]*delivery.Delivery, error) {
	at = at.UTC()
	var models []deliveryModel
	err := s.sdb.NewRaw(`
		UPDATE herald_deliveries
		SET state = 'in_flight', claim_token = ?, claimed_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM herald_deliveries
			WHERE state IN ('pending', 'retrying') AND next_attempt_at <= ?
			ORDER BY next_attempt_at ASC
			LIMIT ?
		)
		RETURNING *
	`, uuid.NewString(), at, at, at, limit).Scan(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("herald/sqlite: claim due: %w", err)
	}
	out, err := fromDeliveryModels(models)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *delivery.Delivery) int { return a.NextAttemptAt.Compare(b.NextAttemptAt) })
	return out, nil
}

func (s *Store) SaveAttempt(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	res, err := s.sdb.NewUpdate((*deliveryModel)(nil)).
		Set("state = ?", m.State).
		Set("attempts = ?", m.Attempts).
		Set("next_attempt_at = ?", m.NextAttemptAt).
		Set("last_error = ?", m.LastError).
		Set("last_status_code = ?", m.LastStatusCode).
		Set("completed_at = ?", m.CompletedAt).
		Set("updated_at = ?", now()).
		Where("id = ?", m.ID).
		Where("state = 'in_flight'").
		Where("claim_token = ?", m.ClaimToken).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/sqlite: save attempt: %w", err)
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
	if err := s.sdb.NewSelect(m).Where("id = ?", delID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("herald/sqlite: get delivery: %w", err)
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListDeliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.sdb.NewSelect(&models)
	if !opts.EndpointID.IsNil() {
		q = q.Where("endpoint_id = ?", opts.EndpointID.String())
	}
	if !opts.EventID.IsNil() {
		q = q.Where("event_id = ?", opts.EventID.String())
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", opts.From.UTC())
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", opts.To.UTC())
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.OrderExpr("created_at DESC, id DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/sqlite: list deliveries: %w", err)
	}
	return fromDeliveryModels(models)
}

func (s *Store) CountByState(ctx context.Context) (map[delivery.State]int64, error) {
	counts := make(map[delivery.State]int64, len(delivery.States))
	for _, st := range delivery.States {
		n, err := s.sdb.NewSelect((*deliveryModel)(nil)).
			Where("state = ?", string(st)).
			Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("herald/sqlite: count %s: %w", st, err)
		}
		if n > 0 {
			counts[st] = n
		}
	}
	return counts, nil
}

func (s *Store) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res, err := s.sdb.NewUpdate((*deliveryModel)(nil)).
		Set("state = 'retrying'").
		Set("updated_at = ?", now()).
		Where("state = 'in_flight'").
		Where("claimed_at < ?", claimedBefore.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("herald/sqlite: requeue stale: %w", err)
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
