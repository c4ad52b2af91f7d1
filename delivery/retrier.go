package delivery

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Class is what the engine does after an attempt.
type Class int

const (
	ClassSuccess Class = iota
	ClassRetryable
	ClassPermanent
)

// Classify maps an attempt result to a Class:
//   - 2xx succeeds;
//   - 4xx other than 429 is permanent, the receiver rejected the payload;
//   - 429, 5xx, any other status, timeouts and transport errors retry.
func Classify(res Result) Class {
	switch code := res.StatusCode; {
	case res.Err != nil:
		return ClassRetryable
	case code >= 200 && code < 300:
		return ClassSuccess
	case code == 429:
		return ClassRetryable
	case code >= 400 && code < 500:
		return ClassPermanent
	default:
		return ClassRetryable
	}
}

// Backoff computes retry delays: Base * 2^(n-1) for the n-th attempt,
// capped at Ceiling, then randomized by ±Jitter.
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration
	Jitter  float64
}

// Delay returns the wait before the attempt following attempt n (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     b.Base,
		RandomizationFactor: b.Jitter,
		Multiplier:          2,
		MaxInterval:         b.Ceiling,
	}
	eb.Reset()

	var d time.Duration
	for i := 0; i < n; i++ {
		d = eb.NextBackOff()
	}
	return d
}

// Bounds returns the smallest and largest value Delay(n) can produce.
func (b Backoff) Bounds(n int) (lo, hi time.Duration) {
	if n < 1 {
		n = 1
	}
	d := b.Base
	for i := 1; i < n && d < b.Ceiling; i++ {
		d *= 2
	}
	if d > b.Ceiling {
		d = b.Ceiling
	}
	delta := time.Duration(b.Jitter * float64(d))
	return d - delta, d + delta
}
