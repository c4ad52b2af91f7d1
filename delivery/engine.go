package delivery

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/xraph/herald/alert"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/ratelimit"
)

// Reasons recorded when the engine stops without attempting.
const (
	ReasonEndpointDisabled = "endpoint disabled"
	ReasonEndpointMissing  = "endpoint not found"
	ReasonEventMissing     = "event not found"
	ReasonGone             = "receiver responded 410 Gone"
	ReasonFailureThreshold = "consecutive failure threshold reached"
	ReasonRateLimited      = "endpoint rate limit"
	ReasonUnsendable       = "request could not be built"
)

// EngineStore is what the engine reads and writes besides the scheduler.
type EngineStore interface {
	GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error)
	SetEnabled(ctx context.Context, epID id.ID, enabled bool, reason string) error
	IncrementFailures(ctx context.Context, epID id.ID) (int, error)
	ResetFailures(ctx context.Context, epID id.ID) error
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
	SaveAttempt(ctx context.Context, d *Delivery) error
	RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error)
}

// EngineConfig tunes the engine. Zero values are replaced by the
// defaults noted on each field.
type EngineConfig struct {
	// Concurrency bounds simultaneous attempts (default 10).
	Concurrency int
	// BatchSize bounds one claim (default 100).
	BatchSize int
	// PollInterval is the idle wake-up period (default 1s).
	PollInterval time.Duration
	// RequestTimeout bounds one HTTP attempt (default 10s).
	RequestTimeout time.Duration
	// ClaimTimeout is how long a delivery may stay in_flight before the
	// sweep hands it to another worker (default 4 x RequestTimeout).
	ClaimTimeout time.Duration
	Backoff      Backoff
	// FailureThreshold disables an endpoint after that many consecutive
	// failed attempts. Zero never disables.
	FailureThreshold     int
	ResponseExcerptLimit int
	HTTPClient           *http.Client

	Limiter  *ratelimit.Limiter
	Notifier alert.Notifier
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

func (c *EngineConfig) setDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 4 * c.RequestTimeout
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = 5 * time.Second
	}
	if c.Backoff.Ceiling < c.Backoff.Base {
		c.Backoff.Ceiling = c.Backoff.Base
	}
}

// Engine claims due deliveries and performs them with bounded concurrency.
type Engine struct {
	store  EngineStore
	sched  Scheduler
	sender *Sender
	cfg    EngineConfig
	logger *slog.Logger
	sem    *semaphore.Weighted
	now    func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	loop    chan struct{}
	workers conc.WaitGroup
}

// NewEngine returns an Engine. It does nothing until Start.
func NewEngine(store EngineStore, sched Scheduler, cfg EngineConfig, logger *slog.Logger) *Engine {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		sched:  sched,
		sender: NewSender(cfg.HTTPClient, cfg.RequestTimeout, cfg.ResponseExcerptLimit),
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:    time.Now,
	}
}

// Start launches the poll loop. Calling Start on a running engine is a
// no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	// Attempts outlive Stop's cancellation; each is bounded by
	// RequestTimeout instead.
	work := context.WithoutCancel(ctx)
	ctx, e.cancel = context.WithCancel(ctx)
	e.loop = make(chan struct{})

	go func() {
		defer close(e.loop)
		e.run(ctx, work)
	}()
}

// Stop stops claiming new work and waits for in-flight attempts until ctx
// is done.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, loop := e.cancel, e.loop
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	<-loop

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(ctx, work context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(e.cfg.ClaimTimeout / 2)
	defer sweep.Stop()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = e.cfg.PollInterval
	retry.MaxInterval = 30 * e.cfg.PollInterval

	e.requeueStale(ctx)
	for {
		if err := e.drain(ctx, work); err != nil && ctx.Err() == nil {
			wait := retry.NextBackOff()
			e.logger.ErrorContext(ctx, "claim due deliveries failed",
				slog.Any("error", err),
				slog.Duration("retry_in", wait),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.sched.Ready():
		case <-sweep.C:
			e.requeueStale(ctx)
		}
	}
}

// drain claims and dispatches work until nothing is due. It claims no more
// deliveries than there are free worker slots.
func (e *Engine) drain(ctx, work context.Context) error {
	for {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		slots := 1
		for slots < e.cfg.BatchSize && e.sem.TryAcquire(1) {
			slots++
		}

		batch, err := e.sched.Due(ctx, slots)
		if err != nil {
			e.sem.Release(int64(slots))
			return err
		}
		if unused := slots - len(batch); unused > 0 {
			e.sem.Release(int64(unused))
		}

		for _, d := range batch {
			e.workers.Go(func() {
				defer e.sem.Release(1)
				e.process(work, d)
			})
		}
		if len(batch) < slots {
			return nil
		}
	}
}

func (e *Engine) requeueStale(ctx context.Context) {
	n, err := e.store.RequeueStale(ctx, e.now().UTC().Add(-e.cfg.ClaimTimeout))
	if err != nil {
		if ctx.Err() == nil {
			e.logger.ErrorContext(ctx, "requeue stale claims failed", slog.Any("error", err))
		}
		return
	}
	if n > 0 {
		e.logger.WarnContext(ctx, "requeued stale in-flight deliveries", slog.Int64("count", n))
	}
}

// process performs one claimed delivery.
func (e *Engine) process(ctx context.Context, d *Delivery) {
	attemptNo := len(d.Attempts) + 1
	ctx, span := e.cfg.Tracer.StartAttempt(ctx, d.ID.String(), d.EventID.String(), d.EndpointID.String(), attemptNo)
	logger := e.logger.With(
		slog.String("delivery_id", d.ID.String()),
		slog.String("endpoint_id", d.EndpointID.String()),
		slog.String("event_id", d.EventID.String()),
	)

	ep, err := e.store.GetEndpoint(ctx, d.EndpointID)
	switch {
	case errors.Is(err, endpoint.ErrNotFound):
		e.abandon(ctx, logger, d, nil, nil, ReasonEndpointMissing)
		observability.EndAttempt(span, string(d.State), 0, ReasonEndpointMissing)
		return
	case err != nil:
		e.postpone(ctx, logger, d, err)
		observability.EndAttempt(span, string(d.State), 0, err.Error())
		return
	case !ep.Enabled:
		e.abandon(ctx, logger, d, ep, nil, ReasonEndpointDisabled)
		observability.EndAttempt(span, string(d.State), 0, ReasonEndpointDisabled)
		return
	}

	evt, err := e.store.GetEvent(ctx, d.EventID)
	switch {
	case errors.Is(err, event.ErrNotFound):
		e.abandon(ctx, logger, d, ep, nil, ReasonEventMissing)
		observability.EndAttempt(span, string(d.State), 0, ReasonEventMissing)
		return
	case err != nil:
		e.postpone(ctx, logger, d, err)
		observability.EndAttempt(span, string(d.State), 0, err.Error())
		return
	}

	// A throttled delivery gives its claim back instead of waiting on it.
	if e.cfg.Limiter != nil {
		if delay := e.cfg.Limiter.Reserve(ep.ID.String(), ep.RateLimit, e.now()); delay > 0 {
			e.throttle(ctx, logger, d, delay)
			observability.EndAttempt(span, string(d.State), 0, ReasonRateLimited)
			return
		}
	}

	started := e.now()
	inFlightDone := e.cfg.Metrics.AttemptStarted(ctx)
	res, err := e.sender.Send(ctx, ep, evt, d, attemptNo)
	inFlightDone()
	if err != nil {
		// Signing and request building are deterministic; retrying cannot help.
		logger.ErrorContext(ctx, "cannot build delivery request", slog.Any("error", err))
		e.abandon(ctx, logger, d, ep, evt, ReasonUnsendable)
		observability.EndAttempt(span, string(d.State), 0, err.Error())
		return
	}

	attempt := res.Attempt(attemptNo, started)
	e.cfg.Metrics.AttemptFinished(ctx, string(attempt.Outcome), res.Duration)

	now := e.now()
	class := Classify(res)
	switch {
	case class == ClassSuccess:
		err = d.Succeed(attempt, now)
	case class == ClassPermanent, attemptNo >= d.MaxAttempts:
		err = d.Fail(attempt, now)
	default:
		err = d.Retry(attempt, now.Add(e.cfg.Backoff.Delay(attemptNo)), now)
	}
	if err != nil {
		logger.ErrorContext(ctx, "record attempt", slog.Any("error", err))
		observability.EndAttempt(span, string(d.State), res.StatusCode, err.Error())
		return
	}

	if !e.save(ctx, logger, d) {
		observability.EndAttempt(span, string(d.State), res.StatusCode, "save failed")
		return
	}
	observability.EndAttempt(span, string(d.State), res.StatusCode, attempt.Error)

	switch d.State {
	case StateDelivered:
		logger.DebugContext(ctx, "delivered",
			slog.Int("attempt", attemptNo),
			slog.Int("status", res.StatusCode),
			slog.Int64("duration_ms", attempt.DurationMs),
		)
		e.cfg.Metrics.DeliveryFinished(ctx, string(d.State))
	case StateRetrying:
		logger.DebugContext(ctx, "retry scheduled",
			slog.Int("attempt", attemptNo),
			slog.String("outcome", string(attempt.Outcome)),
			slog.Time("next_attempt_at", d.NextAttemptAt),
		)
	case StateFailed:
		logger.WarnContext(ctx, "delivery failed",
			slog.Int("attempts", attemptNo),
			slog.String("outcome", string(attempt.Outcome)),
			slog.Int("status", res.StatusCode),
		)
		e.cfg.Metrics.DeliveryFinished(ctx, string(d.State))
		e.notify(ctx, logger, alert.KindDeliveryFailed, d, ep, evt, d.LastError)
	}

	e.trackHealth(ctx, logger, ep, class, res.StatusCode)
}

// trackHealth maintains the endpoint's consecutive failure counter and
// disables it on 410 Gone or when the threshold is reached.
func (e *Engine) trackHealth(ctx context.Context, logger *slog.Logger, ep *endpoint.Endpoint, class Class, status int) {
	if class == ClassSuccess {
		if ep.ConsecutiveFailures > 0 {
			if err := e.store.ResetFailures(ctx, ep.ID); err != nil {
				logger.ErrorContext(ctx, "reset endpoint failures", slog.Any("error", err))
			}
		}
		return
	}

	n, err := e.store.IncrementFailures(ctx, ep.ID)
	if err != nil {
		logger.ErrorContext(ctx, "count endpoint failure", slog.Any("error", err))
		return
	}

	reason := ""
	switch {
	case status == http.StatusGone:
		reason = ReasonGone
	case e.cfg.FailureThreshold > 0 && n >= e.cfg.FailureThreshold:
		reason = ReasonFailureThreshold
	default:
		return
	}

	if err := e.store.SetEnabled(ctx, ep.ID, false, reason); err != nil {
		logger.ErrorContext(ctx, "disable endpoint", slog.Any("error", err))
		return
	}
	logger.WarnContext(ctx, "endpoint disabled", slog.String("reason", reason), slog.Int("consecutive_failures", n))
	e.cfg.Metrics.EndpointDisabled(ctx, reason)
	e.notify(ctx, logger, alert.KindEndpointDisabled, nil, ep, nil, reason)
}

func (e *Engine) abandon(ctx context.Context, logger *slog.Logger, d *Delivery, ep *endpoint.Endpoint, evt *event.Event, reason string) {
	if err := d.Abandon(reason, e.now()); err != nil {
		logger.ErrorContext(ctx, "abandon delivery", slog.Any("error", err))
		return
	}
	if !e.save(ctx, logger, d) {
		return
	}
	logger.InfoContext(ctx, "delivery abandoned", slog.String("reason", reason))
	e.cfg.Metrics.DeliveryFinished(ctx, string(d.State))
	e.notify(ctx, logger, alert.KindDeliveryAbandoned, d, ep, evt, reason)
}

// postpone hands the delivery back without spending an attempt.
func (e *Engine) postpone(ctx context.Context, logger *slog.Logger, d *Delivery, cause error) {
	now := e.now()
	if err := d.Defer(now.Add(e.cfg.Backoff.Delay(1)), now); err != nil {
		logger.ErrorContext(ctx, "postpone delivery", slog.Any("error", err))
		return
	}
	logger.WarnContext(ctx, "delivery postponed", slog.Any("cause", cause), slog.Time("next_attempt_at", d.NextAttemptAt))
	e.save(ctx, logger, d)
}

// throttle releases the claim until the endpoint's limiter frees a token.
func (e *Engine) throttle(ctx context.Context, logger *slog.Logger, d *Delivery, delay time.Duration) {
	now := e.now()
	if err := d.Defer(now.Add(delay), now); err != nil {
		logger.ErrorContext(ctx, "throttle delivery", slog.Any("error", err))
		return
	}
	logger.DebugContext(ctx, "delivery throttled", slog.Duration("delay", delay))
	e.save(ctx, logger, d)
}

func (e *Engine) save(ctx context.Context, logger *slog.Logger, d *Delivery) bool {
	err := e.store.SaveAttempt(ctx, d)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrClaimLost):
		logger.ErrorContext(ctx, "double claim detected, result discarded", slog.String("state", string(d.State)))
	default:
		logger.ErrorContext(ctx, "save delivery", slog.Any("error", err))
	}
	return false
}

func (e *Engine) notify(ctx context.Context, logger *slog.Logger, kind alert.Kind, d *Delivery, ep *endpoint.Endpoint, evt *event.Event, reason string) {
	if e.cfg.Notifier == nil {
		return
	}
	a := alert.Alert{Kind: kind, Reason: reason, At: e.now().UTC()}
	if d != nil {
		a.DeliveryID, a.EventID, a.EndpointID = d.ID, d.EventID, d.EndpointID
		a.Attempts, a.LastStatusCode = len(d.Attempts), d.LastStatusCode
	}
	if ep != nil {
		a.EndpointID, a.TenantID, a.URL = ep.ID, ep.TenantID, ep.URL
	}
	if evt != nil {
		a.EventType = evt.Type
	}
	if err := e.cfg.Notifier.Notify(ctx, a); err != nil {
		logger.ErrorContext(ctx, "send alert", slog.String("kind", string(kind)), slog.Any("error", err))
	}
}
