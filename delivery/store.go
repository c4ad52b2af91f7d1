package delivery

import (
	"context"
	"time"

	"github.com/xraph/herald/id"
)

// Store persists deliveries.
type Store interface {
	Enqueue(ctx context.Context, d *Delivery) error

	// EnqueueBatch stores every delivery of one fan-out.
	EnqueueBatch(ctx context.Context, ds []*Delivery) error

	// ClaimDue atomically moves up to limit claimable deliveries with
	// NextAttemptAt <= now to in_flight, oldest due first, and returns
	// them. A delivery is returned to at most one caller per claim.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)

	// SaveAttempt persists d after the engine moved it out of in_flight.
	// It fails with ErrClaimLost unless the stored record is still
	// in_flight under d.ClaimToken.
	SaveAttempt(ctx context.Context, d *Delivery) error

	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// ListDeliveries returns matching deliveries, newest first.
	ListDeliveries(ctx context.Context, opts ListOpts) ([]*Delivery, error)

	CountByState(ctx context.Context) (map[State]int64, error)

	// RequeueStale returns deliveries claimed before the cutoff and still
	// in_flight to retrying. It recovers claims of crashed workers.
	RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error)
}
