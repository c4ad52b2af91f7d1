package delivery

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition = errors.New("delivery: invalid state transition")
	ErrAttemptSequence   = errors.New("delivery: attempt out of sequence")
)

func transition(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Claim moves a pending or retrying delivery to in_flight under token.
func (d *Delivery) Claim(token string, now time.Time) error {
	if !d.State.Claimable() {
		return transition(d.State, StateInFlight)
	}
	now = now.UTC()
	d.State = StateInFlight
	d.ClaimToken = token
	d.ClaimedAt = &now
	d.UpdatedAt = now
	return nil
}

// Succeed records a successful attempt and completes the delivery.
func (d *Delivery) Succeed(a Attempt, now time.Time) error {
	if err := d.record(a, StateDelivered); err != nil {
		return err
	}
	d.finish(StateDelivered, now)
	return nil
}

// Fail records the last attempt and completes the delivery as failed.
func (d *Delivery) Fail(a Attempt, now time.Time) error {
	if err := d.record(a, StateFailed); err != nil {
		return err
	}
	d.finish(StateFailed, now)
	return nil
}

// Retry records a failed attempt and schedules the next one at next.
func (d *Delivery) Retry(a Attempt, next, now time.Time) error {
	if err := d.record(a, StateRetrying); err != nil {
		return err
	}
	d.State = StateRetrying
	d.NextAttemptAt = next.UTC()
	d.UpdatedAt = now.UTC()
	return nil
}

// Defer puts an in-flight delivery back without recording an attempt,
// for when something other than the receiver prevented the request.
func (d *Delivery) Defer(next, now time.Time) error {
	if d.State != StateInFlight {
		return transition(d.State, StateRetrying)
	}
	d.State = StateRetrying
	d.NextAttemptAt = next.UTC()
	d.UpdatedAt = now.UTC()
	return nil
}

// Abandon completes a non-terminal delivery without further attempts.
func (d *Delivery) Abandon(reason string, now time.Time) error {
	if d.State.Terminal() {
		return transition(d.State, StateAbandoned)
	}
	d.LastError = reason
	d.finish(StateAbandoned, now)
	return nil
}

func (d *Delivery) record(a Attempt, to State) error {
	if d.State != StateInFlight {
		return transition(d.State, to)
	}
	if want := len(d.Attempts) + 1; a.Number != want {
		return fmt.Errorf("%w: got %d, want %d", ErrAttemptSequence, a.Number, want)
	}
	d.Attempts = append(d.Attempts, a)
	d.LastError = a.Error
	d.LastStatusCode = a.StatusCode
	return nil
}

func (d *Delivery) finish(to State, now time.Time) {
	now = now.UTC()
	d.State = to
	d.CompletedAt = &now
	d.UpdatedAt = now
}
