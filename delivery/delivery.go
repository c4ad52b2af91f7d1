// Package delivery tracks and performs webhook deliveries.
//
// A Delivery is one (event, endpoint) pair. It moves through a small state
// machine (see state.go) driven by the Engine, which claims due deliveries,
// POSTs the signed payload and records every attempt.
package delivery

import (
	"errors"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

var (
	ErrNotFound = errors.New("delivery: not found")

	// ErrClaimLost is returned by Store.SaveAttempt when the record is no
	// longer held by the caller's claim. Seeing it means two workers
	// processed the same delivery.
	ErrClaimLost = errors.New("delivery: claim lost")
)

// State is a delivery's lifecycle position.
type State string

const (
	StatePending   State = "pending"
	StateInFlight  State = "in_flight"
	StateRetrying  State = "retrying"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
	StateAbandoned State = "abandoned"
)

// States lists every state in lifecycle order.
var States = []State{StatePending, StateInFlight, StateRetrying, StateDelivered, StateFailed, StateAbandoned}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed || s == StateAbandoned
}

// Claimable reports whether a worker may pick the delivery up.
func (s State) Claimable() bool {
	return s == StatePending || s == StateRetrying
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// Delivery is the durable record of sending one event to one endpoint.
type Delivery struct {
	entity.Entity

	ID         id.ID `json:"id"`
	EventID    id.ID `json:"event_id"`
	EndpointID id.ID `json:"endpoint_id"`

	State       State     `json:"state"`
	Attempts    []Attempt `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`

	// NextAttemptAt is when the delivery becomes due. It is meaningful
	// while the delivery is pending or retrying.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// ClaimToken identifies the worker claim that moved the delivery to
	// in_flight. Saves from any other claim are rejected. It is never
	// serialized.
	ClaimToken string     `json:"-"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`

	// ReplayOf is the delivery this one re-sends, if any.
	ReplayOf id.ID `json:"replay_of"`

	LastError      string     `json:"last_error,omitempty"`
	LastStatusCode int        `json:"last_status_code,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// New returns a pending delivery due at now.
func New(eventID, endpointID id.ID, maxAttempts int, now time.Time) *Delivery {
	now = now.UTC()
	return &Delivery{
		Entity:        entity.Entity{CreatedAt: now, UpdatedAt: now},
		ID:            id.NewDeliveryID(),
		EventID:       eventID,
		EndpointID:    endpointID,
		State:         StatePending,
		Attempts:      []Attempt{},
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now,
	}
}

// AttemptCount is len(d.Attempts).
func (d *Delivery) AttemptCount() int { return len(d.Attempts) }

// Clone returns a deep copy.
func (d *Delivery) Clone() *Delivery {
	cp := *d
	cp.Attempts = append([]Attempt(nil), d.Attempts...)
	if d.ClaimedAt != nil {
		t := *d.ClaimedAt
		cp.ClaimedAt = &t
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ListOpts filters delivery listings. Zero fields do not filter.
type ListOpts struct {
	EndpointID id.ID
	EventID    id.ID
	State      State
	From       *time.Time
	To         *time.Time
	Offset     int
	Limit      int
}

// Page is one page of a listing, newest first.
type Page struct {
	Items   []*Delivery `json:"items"`
	Offset  int         `json:"offset"`
	Limit   int         `json:"limit"`
	HasMore bool        `json:"has_more"`
}
