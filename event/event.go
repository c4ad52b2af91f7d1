// Package event holds submitted webhook payloads.
//
// An Event's Data is fixed at submission: every delivery attempt of every
// delivery created for the event sends exactly these bytes.
package event

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

var (
	ErrNotFound = errors.New("event: not found")

	// ErrDuplicateIdempotencyKey is returned by CreateEvent when the
	// tenant already submitted an event with the same key.
	ErrDuplicateIdempotencyKey = errors.New("event: duplicate idempotency key")
)

// Event is one occurrence of a registered event type.
type Event struct {
	entity.Entity

	ID       id.ID  `json:"id"`
	Type     string `json:"type"`
	TenantID string `json:"tenant_id"`

	// Data is the canonical JSON body sent to receivers.
	Data json.RawMessage `json:"data"`

	// OccurredAt is when the underlying domain event happened.
	OccurredAt time.Time `json:"occurred_at"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ListOpts filters event listings.
type ListOpts struct {
	TenantID string
	Type     string
	From     *time.Time
	To       *time.Time
	Offset   int
	Limit    int
}
