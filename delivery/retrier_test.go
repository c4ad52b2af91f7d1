package delivery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/herald/delivery"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		res  delivery.Result
		want delivery.Class
	}{
		{"200", delivery.Result{StatusCode: 200}, delivery.ClassSuccess},
		{"204", delivery.Result{StatusCode: 204}, delivery.ClassSuccess},
		{"301", delivery.Result{StatusCode: 301}, delivery.ClassRetryable},
		{"400", delivery.Result{StatusCode: 400}, delivery.ClassPermanent},
		{"404", delivery.Result{StatusCode: 404}, delivery.ClassPermanent},
		{"410", delivery.Result{StatusCode: 410}, delivery.ClassPermanent},
		{"429", delivery.Result{StatusCode: 429}, delivery.ClassRetryable},
		{"500", delivery.Result{StatusCode: 500}, delivery.ClassRetryable},
		{"503", delivery.Result{StatusCode: 503}, delivery.ClassRetryable},
		{"timeout", delivery.Result{Err: context.DeadlineExceeded, Timeout: true}, delivery.ClassRetryable},
		{"transport", delivery.Result{Err: errors.New("connection refused")}, delivery.ClassRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := delivery.Classify(tt.res); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResultOutcome(t *testing.T) {
	tests := []struct {
		res  delivery.Result
		want delivery.Outcome
	}{
		{delivery.Result{StatusCode: 200}, delivery.OutcomeSuccess},
		{delivery.Result{StatusCode: 422}, delivery.OutcomeRejected},
		{delivery.Result{StatusCode: 429}, delivery.OutcomeHTTPError},
		{delivery.Result{StatusCode: 502}, delivery.OutcomeHTTPError},
		{delivery.Result{Err: context.DeadlineExceeded, Timeout: true}, delivery.OutcomeTimeout},
		{delivery.Result{Err: errors.New("dial tcp: refused")}, delivery.OutcomeTransportError},
	}
	for _, tt := range tests {
		if got := tt.res.Outcome(); got != tt.want {
			t.Errorf("%+v: outcome = %s, want %s", tt.res, got, tt.want)
		}
	}
}

func TestResultAttempt(t *testing.T) {
	at := time.Now()
	a := delivery.Result{StatusCode: 503, Response: "busy", Duration: 1500 * time.Millisecond}.Attempt(2, at)
	if a.Number != 2 || a.StatusCode != 503 || a.ResponseExcerpt != "busy" || a.DurationMs != 1500 {
		t.Errorf("attempt = %+v", a)
	}
	if a.Error == "" {
		t.Error("non-2xx attempt should carry an error")
	}

	ok := delivery.Result{StatusCode: 200}.Attempt(1, at)
	if ok.Error != "" {
		t.Errorf("success error = %q", ok.Error)
	}
}

// jitterSlack absorbs the rounding of the backoff library's randomization.
const jitterSlack = time.Nanosecond

func TestBackoffBounds(t *testing.T) {
	b := delivery.Backoff{Base: 5 * time.Second, Ceiling: time.Hour, Jitter: 0.2}

	lo, hi := b.Bounds(1)
	if lo != 4*time.Second || hi != 6*time.Second {
		t.Errorf("Bounds(1) = [%v, %v], want [4s, 6s]", lo, hi)
	}
	lo, hi = b.Bounds(3)
	if lo != 16*time.Second || hi != 24*time.Second {
		t.Errorf("Bounds(3) = [%v, %v], want [16s, 24s]", lo, hi)
	}
	lo, hi = b.Bounds(40)
	if lo != 48*time.Minute || hi != 72*time.Minute {
		t.Errorf("Bounds(40) = [%v, %v], want ceiling ±20%%", lo, hi)
	}

	for n := 1; n <= 15; n++ {
		lo, hi := b.Bounds(n)
		for i := 0; i < 50; i++ {
			d := b.Delay(n)
			if d < lo-jitterSlack || d > hi+jitterSlack {
				t.Fatalf("Delay(%d) = %v outside [%v, %v]", n, d, lo, hi)
			}
		}
	}
}

func TestBackoffBoundsNonDecreasing(t *testing.T) {
	b := delivery.Backoff{Base: time.Second, Ceiling: 10 * time.Minute, Jitter: 0.3}
	prevLo, prevHi := b.Bounds(1)
	for n := 2; n <= 30; n++ {
		lo, hi := b.Bounds(n)
		if lo < prevLo || hi < prevHi {
			t.Fatalf("Bounds(%d) = [%v, %v] below Bounds(%d) = [%v, %v]", n, lo, hi, n-1, prevLo, prevHi)
		}
		prevLo, prevHi = lo, hi
	}
}

func TestBackoffWithoutJitter(t *testing.T) {
	b := delivery.Backoff{Base: 10 * time.Millisecond, Ceiling: 50 * time.Millisecond}
	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w*time.Millisecond)
		}
	}
}
