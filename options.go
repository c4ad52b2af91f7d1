package herald

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/herald/alert"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/store"
)

// Option configures a Herald instance.
type Option func(*Herald) error

// WithStore sets the persistence backend. It is required.
func WithStore(s store.Store) Option {
	return func(h *Herald) error {
		h.store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Herald) error {
		h.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// adjust the replacement.
func WithConfig(cfg Config) Option {
	return func(h *Herald) error {
		h.config = cfg
		return nil
	}
}

// WithConcurrency sets the maximum number of attempts in flight.
func WithConcurrency(n int) Option {
	return func(h *Herald) error {
		h.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the engine looks for due deliveries.
func WithPollInterval(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of deliveries claimed at once.
func WithBatchSize(n int) Option {
	return func(h *Herald) error {
		h.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the per-attempt HTTP timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.RequestTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the default attempt limit.
func WithMaxAttempts(n int) Option {
	return func(h *Herald) error {
		h.config.MaxAttempts = n
		return nil
	}
}

// WithBackoff sets the retry delay curve.
func WithBackoff(base, ceiling time.Duration, jitter float64) Option {
	return func(h *Herald) error {
		h.config.BackoffBase = base
		h.config.BackoffCeiling = ceiling
		h.config.BackoffJitter = jitter
		return nil
	}
}

// WithFailureThreshold disables endpoints after n consecutive failures.
func WithFailureThreshold(n int) Option {
	return func(h *Herald) error {
		h.config.FailureThreshold = n
		return nil
	}
}

// WithShutdownTimeout bounds Stop when its context has no deadline.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.ShutdownTimeout = d
		return nil
	}
}

// WithCacheTTL sets the catalog cache TTL.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.CacheTTL = d
		return nil
	}
}

// WithHTTPClient sets the client used for deliveries. The default client
// does not follow redirects.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Herald) error {
		h.httpClient = c
		return nil
	}
}

// WithNotifier receives failed, abandoned and endpoint-disabled alerts.
func WithNotifier(n alert.Notifier) Option {
	return func(h *Herald) error {
		h.notifier = n
		return nil
	}
}

// WithMetrics records delivery metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Herald) error {
		h.metrics = m
		return nil
	}
}

// WithTracer records a span per attempt.
func WithTracer(t *observability.Tracer) Option {
	return func(h *Herald) error {
		h.tracer = t
		return nil
	}
}

// WithScheduler replaces the in-process store-backed scheduler, for
// instance with a durable queue.
func WithScheduler(s delivery.Scheduler) Option {
	return func(h *Herald) error {
		h.scheduler = s
		return nil
	}
}
