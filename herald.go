package herald

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/herald/alert"
	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/ratelimit"
	"github.com/xraph/herald/store"
)

// Listing limits for ListDeliveries.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Herald is the webhook service facade: catalog, endpoint registry,
// dispatch and the delivery engine behind one value.
type Herald struct {
	config     Config
	store      store.Store
	logger     *slog.Logger
	httpClient *http.Client
	notifier   alert.Notifier
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	scheduler  delivery.Scheduler

	catalog     *catalog.Catalog
	endpointSvc *endpoint.Service
	limiter     *ratelimit.Limiter
	engine      *delivery.Engine
	now         func() time.Time
}

// New returns a Herald configured by opts. The engine is not running until
// Start.
func New(opts ...Option) (*Herald, error) {
	h := &Herald{
		config: DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.store == nil {
		return nil, ErrNoStore
	}
	if err := h.config.Validate(); err != nil {
		return nil, err
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if err := h.wireServices(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Herald) wireServices() error {
	h.catalog = catalog.New(h.store, h.config.CacheTTL, h.logger)
	h.endpointSvc = endpoint.NewService(h.store, h.config.SecretGracePeriod, h.logger)
	h.limiter = ratelimit.New()
	if h.scheduler == nil {
		h.scheduler = delivery.NewStoreScheduler(h.store)
	}

	h.engine = delivery.NewEngine(h.store, h.scheduler, delivery.EngineConfig{
		Concurrency:    h.config.Concurrency,
		BatchSize:      h.config.BatchSize,
		PollInterval:   h.config.PollInterval,
		RequestTimeout: h.config.RequestTimeout,
		ClaimTimeout:   h.config.claimTimeout(),
		Backoff: delivery.Backoff{
			Base:    h.config.BackoffBase,
			Ceiling: h.config.BackoffCeiling,
			Jitter:  h.config.BackoffJitter,
		},
		FailureThreshold:     h.config.FailureThreshold,
		ResponseExcerptLimit: h.config.ResponseExcerptLimit,
		HTTPClient:           h.httpClient,
		Limiter:              h.limiter,
		Notifier:             h.notifier,
		Metrics:              h.metrics,
		Tracer:               h.tracer,
	}, h.logger)

	return h.metrics.ObserveBacklog(func(ctx context.Context) (map[string]int64, error) {
		counts, err := h.store.CountByState(ctx)
		if err != nil {
			return nil, err
		}
		out := make(map[string]int64, len(counts))
		for s, n := range counts {
			out[string(s)] = n
		}
		return out, nil
	})
}

// Start launches the delivery engine.
func (h *Herald) Start(ctx context.Context) {
	if err := h.catalog.WarmCache(ctx); err != nil {
		h.logger.WarnContext(ctx, "event type cache not warmed", slog.Any("error", err))
	}
	h.engine.Start(ctx)
	h.logger.InfoContext(ctx, "delivery engine started",
		slog.Int("concurrency", h.config.Concurrency),
		slog.Duration("poll_interval", h.config.PollInterval),
	)
}

// Stop stops claiming work and waits for in-flight attempts. Without a
// deadline on ctx it waits at most Config.ShutdownTimeout.
func (h *Herald) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && h.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.ShutdownTimeout)
		defer cancel()
	}
	if err := h.engine.Stop(ctx); err != nil {
		return fmt.Errorf("herald: stop engine: %w", err)
	}
	h.logger.InfoContext(ctx, "delivery engine stopped")
	return nil
}

// RegisterEventType adds or updates an event type in the catalog.
func (h *Herald) RegisterEventType(ctx context.Context, def catalog.Definition) (*catalog.EventType, error) {
	et, err := h.catalog.Register(ctx, def, nil)
	if err != nil {
		return nil, asValidation(err)
	}
	return et, nil
}

// DeprecateEventType stops new submissions of the named type. Its name is
// never reused.
func (h *Herald) DeprecateEventType(ctx context.Context, name string) error {
	return h.catalog.Deprecate(ctx, name)
}

// RegisterEndpoint validates and stores a new endpoint. The returned
// secret is shown once; later reads never include it.
func (h *Herald) RegisterEndpoint(ctx context.Context, in endpoint.Input) (*endpoint.Endpoint, string, error) {
	ep, err := h.endpointSvc.Create(ctx, in)
	if err != nil {
		return nil, "", asValidation(err)
	}
	return ep, ep.Secret, nil
}

// DisableEndpoint stops dispatch to the endpoint. Outstanding deliveries
// are abandoned when next picked up; an attempt already in flight
// completes. Disabling twice is a no-op.
func (h *Herald) DisableEndpoint(ctx context.Context, epID id.ID) error {
	return h.endpointSvc.Disable(ctx, epID, "disabled by operator")
}

// EnableEndpoint resumes dispatch and resets the failure counter.
func (h *Herald) EnableEndpoint(ctx context.Context, epID id.ID) error {
	if err := h.endpointSvc.Enable(ctx, epID); err != nil {
		return err
	}
	h.limiter.Reset(epID.String())
	return nil
}

// RotateSecret issues a new signing secret and returns it.
func (h *Herald) RotateSecret(ctx context.Context, epID id.ID) (string, error) {
	return h.endpointSvc.RotateSecret(ctx, epID)
}

// GetDelivery returns one delivery with its attempt history.
func (h *Herald) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	return h.store.GetDelivery(ctx, delID)
}

// ListDeliveries returns one page of deliveries, newest first.
func (h *Herald) ListDeliveries(ctx context.Context, opts delivery.ListOpts) (*delivery.Page, error) {
	if opts.State != "" && !opts.State.Valid() {
		return nil, &ValidationError{Field: "state", Message: "unknown state " + string(opts.State)}
	}
	if opts.Offset < 0 {
		return nil, &ValidationError{Field: "offset", Message: "must not be negative"}
	}
	switch {
	case opts.Limit <= 0:
		opts.Limit = DefaultPageLimit
	case opts.Limit > MaxPageLimit:
		opts.Limit = MaxPageLimit
	}

	limit := opts.Limit
	opts.Limit++
	items, err := h.store.ListDeliveries(ctx, opts)
	if err != nil {
		return nil, err
	}
	page := &delivery.Page{Items: items, Offset: opts.Offset, Limit: limit}
	if len(items) > limit {
		page.Items, page.HasMore = items[:limit], true
	}
	if page.Items == nil {
		page.Items = []*delivery.Delivery{}
	}
	return page, nil
}

// Replay creates a new pending delivery of the same event to the same
// endpoint. The original record and its attempts are not touched.
func (h *Herald) Replay(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	orig, err := h.store.GetDelivery(ctx, delID)
	if err != nil {
		return nil, err
	}
	ep, err := h.store.GetEndpoint(ctx, orig.EndpointID)
	if err != nil {
		return nil, err
	}
	if !ep.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrEndpointDisabled, ep.ID)
	}

	d := delivery.New(orig.EventID, orig.EndpointID, ep.AttemptLimit(h.config.MaxAttempts), h.now())
	d.ReplayOf = orig.ID
	if err := h.scheduler.Submit(ctx, []*delivery.Delivery{d}); err != nil {
		return nil, fmt.Errorf("herald: enqueue replay: %w", err)
	}

	h.metrics.DeliveryReplayed(ctx)
	h.logger.InfoContext(ctx, "delivery replayed",
		slog.String("delivery_id", d.ID.String()),
		slog.String("replay_of", orig.ID.String()),
		slog.String("endpoint_id", ep.ID.String()),
	)
	return d, nil
}

// Stats counts stored deliveries per state.
func (h *Herald) Stats(ctx context.Context) (map[delivery.State]int64, error) {
	return h.store.CountByState(ctx)
}

// Config returns a copy of the configuration.
func (h *Herald) Config() Config { return h.config }

// Endpoints returns the endpoint service.
func (h *Herald) Endpoints() *endpoint.Service { return h.endpointSvc }

// Catalog returns the event type catalog.
func (h *Herald) Catalog() *catalog.Catalog { return h.catalog }

// Store returns the underlying store.
func (h *Herald) Store() store.Store { return h.store }
