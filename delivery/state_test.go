package delivery_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
)

func claimed(t *testing.T, maxAttempts int) *delivery.Delivery {
	t.Helper()
	d := delivery.New(id.NewEventID(), id.NewEndpointID(), maxAttempts, time.Now())
	if err := d.Claim("tok", time.Now()); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestNewDeliveryIsPending(t *testing.T) {
	now := time.Now()
	d := delivery.New(id.NewEventID(), id.NewEndpointID(), 5, now)
	if d.State != delivery.StatePending {
		t.Errorf("state = %s, want pending", d.State)
	}
	if d.AttemptCount() != 0 || d.Attempts == nil {
		t.Errorf("attempts = %v, want empty non-nil slice", d.Attempts)
	}
	if !d.NextAttemptAt.Equal(now.UTC()) {
		t.Errorf("next attempt = %v, want %v", d.NextAttemptAt, now.UTC())
	}
	if d.ID.Prefix() != id.PrefixDelivery {
		t.Errorf("prefix = %q", d.ID.Prefix())
	}
}

func TestRetryThenSucceed(t *testing.T) {
	now := time.Now()
	d := claimed(t, 3)

	a1 := delivery.Attempt{Number: 1, AttemptedAt: now, Outcome: delivery.OutcomeHTTPError, StatusCode: 500, Error: "receiver responded 500"}
	if err := d.Retry(a1, now.Add(time.Minute), now); err != nil {
		t.Fatal(err)
	}
	if d.State != delivery.StateRetrying || d.LastStatusCode != 500 {
		t.Fatalf("state=%s last=%d", d.State, d.LastStatusCode)
	}
	if d.CompletedAt != nil {
		t.Error("retrying delivery must not be completed")
	}

	if err := d.Claim("tok-2", now); err != nil {
		t.Fatal(err)
	}
	a2 := delivery.Attempt{Number: 2, AttemptedAt: now, Outcome: delivery.OutcomeSuccess, StatusCode: 200}
	if err := d.Succeed(a2, now); err != nil {
		t.Fatal(err)
	}
	if d.State != delivery.StateDelivered || d.CompletedAt == nil || d.AttemptCount() != 2 {
		t.Errorf("state=%s completed=%v attempts=%d", d.State, d.CompletedAt, d.AttemptCount())
	}
	if d.LastError != "" {
		t.Errorf("last error = %q, want empty after success", d.LastError)
	}
}

func TestInvalidTransitions(t *testing.T) {
	now := time.Now()
	a := delivery.Attempt{Number: 1, AttemptedAt: now, Outcome: delivery.OutcomeSuccess}

	pending := delivery.New(id.NewEventID(), id.NewEndpointID(), 3, now)
	if err := pending.Succeed(a, now); !errors.Is(err, delivery.ErrInvalidTransition) {
		t.Errorf("succeed from pending: %v", err)
	}
	if err := pending.Defer(now, now); !errors.Is(err, delivery.ErrInvalidTransition) {
		t.Errorf("defer from pending: %v", err)
	}

	done := claimed(t, 3)
	if err := done.Succeed(a, now); err != nil {
		t.Fatal(err)
	}
	for name, err := range map[string]error{
		"claim":   done.Claim("again", now),
		"abandon": done.Abandon("x", now),
		"fail":    done.Fail(delivery.Attempt{Number: 2}, now),
	} {
		if !errors.Is(err, delivery.ErrInvalidTransition) {
			t.Errorf("%s from delivered: %v", name, err)
		}
	}
}

func TestAttemptSequence(t *testing.T) {
	d := claimed(t, 3)
	err := d.Fail(delivery.Attempt{Number: 2}, time.Now())
	if !errors.Is(err, delivery.ErrAttemptSequence) {
		t.Fatalf("err = %v, want ErrAttemptSequence", err)
	}
	if d.State != delivery.StateInFlight || d.AttemptCount() != 0 {
		t.Errorf("rejected attempt changed the delivery: state=%s attempts=%d", d.State, d.AttemptCount())
	}
}

func TestDeferKeepsAttempts(t *testing.T) {
	now := time.Now()
	d := claimed(t, 3)
	next := now.Add(time.Second)
	if err := d.Defer(next, now); err != nil {
		t.Fatal(err)
	}
	if d.State != delivery.StateRetrying || d.AttemptCount() != 0 || !d.NextAttemptAt.Equal(next.UTC()) {
		t.Errorf("state=%s attempts=%d next=%v", d.State, d.AttemptCount(), d.NextAttemptAt)
	}
}

func TestAbandonFromRetrying(t *testing.T) {
	now := time.Now()
	d := claimed(t, 3)
	_ = d.Retry(delivery.Attempt{Number: 1, Outcome: delivery.OutcomeTimeout}, now, now)
	if err := d.Abandon("endpoint disabled", now); err != nil {
		t.Fatal(err)
	}
	if d.State != delivery.StateAbandoned || d.LastError != "endpoint disabled" || d.CompletedAt == nil {
		t.Errorf("state=%s last=%q", d.State, d.LastError)
	}
}

func TestStatePredicates(t *testing.T) {
	for _, s := range delivery.States {
		if !s.Valid() {
			t.Errorf("%s not valid", s)
		}
		if s.Terminal() && s.Claimable() {
			t.Errorf("%s both terminal and claimable", s)
		}
	}
	if delivery.State("bogus").Valid() {
		t.Error("bogus state reported valid")
	}
}

func TestCloneIsDeep(t *testing.T) {
	d := claimed(t, 3)
	cp := d.Clone()
	cp.Attempts = append(cp.Attempts, delivery.Attempt{Number: 1})
	*cp.ClaimedAt = time.Time{}
	if d.AttemptCount() != 0 || d.ClaimedAt.IsZero() {
		t.Error("clone shares state with original")
	}
}

func TestClaimTokenNotSerialized(t *testing.T) {
	d := claimed(t, 3)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "claim_token") || strings.Contains(string(b), `"tok"`) {
		t.Errorf("claim token leaked into JSON: %s", b)
	}
	if !strings.Contains(string(b), "claimed_at") {
		t.Errorf("claimed_at missing from JSON: %s", b)
	}
}
