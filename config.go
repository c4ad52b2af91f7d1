package herald

import (
	"fmt"
	"time"
)

// Config holds the tunables of a Herald instance. It is copied into the
// instance by New and never changes afterwards.
type Config struct {
	// Concurrency is the maximum number of attempts in flight at once.
	Concurrency int

	// PollInterval is how often the engine looks for due deliveries when
	// nothing woke it earlier.
	PollInterval time.Duration

	// BatchSize is the maximum number of deliveries claimed at once.
	BatchSize int

	// RequestTimeout bounds one HTTP attempt.
	RequestTimeout time.Duration

	// MaxAttempts is the attempt limit for endpoints that set none.
	MaxAttempts int

	// BackoffBase is the delay after the first failed attempt. Later
	// delays double up to BackoffCeiling.
	BackoffBase    time.Duration
	BackoffCeiling time.Duration

	// BackoffJitter randomizes each delay by ±BackoffJitter of itself. It
	// must be positive so retries from a burst spread out.
	BackoffJitter float64

	// ClaimTimeout is how long a delivery may stay in flight before
	// another worker may take it over. Zero means 4 × RequestTimeout.
	ClaimTimeout time.Duration

	// FailureThreshold disables an endpoint after this many consecutive
	// failed attempts. Zero never disables.
	FailureThreshold int

	// SecretGracePeriod is how long a rotated-out secret keeps co-signing.
	SecretGracePeriod time.Duration

	// ResponseExcerptLimit caps the response body bytes kept per attempt.
	ResponseExcerptLimit int

	// ShutdownTimeout bounds Stop when the caller's context has no deadline.
	ShutdownTimeout time.Duration

	// CacheTTL is how long catalog lookups are cached. Zero caches until
	// the type is changed through this instance.
	CacheTTL time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:          10,
		PollInterval:         time.Second,
		BatchSize:            50,
		RequestTimeout:       10 * time.Second,
		MaxAttempts:          10,
		BackoffBase:          5 * time.Second,
		BackoffCeiling:       time.Hour,
		BackoffJitter:        0.2,
		FailureThreshold:     0,
		SecretGracePeriod:    24 * time.Hour,
		ResponseExcerptLimit: 1024,
		ShutdownTimeout:      30 * time.Second,
		CacheTTL:             30 * time.Second,
	}
}

// Validate reports the first unusable value.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidConfig)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch size must be at least 1", ErrInvalidConfig)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("%w: request timeout must be positive", ErrInvalidConfig)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	case c.BackoffBase <= 0:
		return fmt.Errorf("%w: backoff base must be positive", ErrInvalidConfig)
	case c.BackoffCeiling < c.BackoffBase:
		return fmt.Errorf("%w: backoff ceiling %s is below base %s", ErrInvalidConfig, c.BackoffCeiling, c.BackoffBase)
	case c.BackoffJitter <= 0 || c.BackoffJitter >= 1:
		return fmt.Errorf("%w: backoff jitter must be in (0, 1), got %v", ErrInvalidConfig, c.BackoffJitter)
	case c.ClaimTimeout < 0:
		return fmt.Errorf("%w: claim timeout must not be negative", ErrInvalidConfig)
	case c.ClaimTimeout > 0 && c.ClaimTimeout <= c.RequestTimeout:
		return fmt.Errorf("%w: claim timeout must exceed request timeout", ErrInvalidConfig)
	case c.FailureThreshold < 0:
		return fmt.Errorf("%w: failure threshold must not be negative", ErrInvalidConfig)
	case c.SecretGracePeriod < 0:
		return fmt.Errorf("%w: secret grace period must not be negative", ErrInvalidConfig)
	case c.ResponseExcerptLimit < 0:
		return fmt.Errorf("%w: response excerpt limit must not be negative", ErrInvalidConfig)
	case c.CacheTTL < 0:
		return fmt.Errorf("%w: cache ttl must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c Config) claimTimeout() time.Duration {
	if c.ClaimTimeout > 0 {
		return c.ClaimTimeout
	}
	return 4 * c.RequestTimeout
}
