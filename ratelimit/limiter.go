// Package ratelimit paces deliveries per endpoint.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per endpoint. Buckets start full with a
// burst equal to the per-second rate.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New returns an empty Limiter.
func New() *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter)}
}

// Allow reports whether a delivery to key may go out now. A perSecond of
// zero or less means unlimited.
func (l *Limiter) Allow(key string, perSecond int) bool {
	if perSecond <= 0 {
		return true
	}
	return l.bucket(key, perSecond).Allow()
}

// Reserve takes a token for key if one is free at now and returns zero.
// Otherwise it takes nothing and returns how long until a token frees up,
// so the caller can hand the work back instead of blocking on it.
func (l *Limiter) Reserve(key string, perSecond int, now time.Time) time.Duration {
	if perSecond <= 0 {
		return 0
	}
	r := l.bucket(key, perSecond).ReserveN(now, 1)
	if !r.OK() {
		return time.Second
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
	}
	return delay
}

// Reset forgets the bucket for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

func (l *Limiter) bucket(key string, perSecond int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	switch {
	case !ok:
		b = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		l.buckets[key] = b
	case b.Limit() != rate.Limit(perSecond):
		// The endpoint's limit was changed since the bucket was created.
		b.SetLimit(rate.Limit(perSecond))
		b.SetBurst(perSecond)
	}
	return b
}
