package event

import (
	"context"

	"github.com/xraph/herald/id"
)

// Store persists events.
type Store interface {
	// CreateEvent stores evt. A non-empty IdempotencyKey already used by
	// the same tenant yields ErrDuplicateIdempotencyKey.
	CreateEvent(ctx context.Context, evt *Event) error
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)
}
