package delivery

import (
	"context"
	"time"
)

// Scheduler is the work queue between fan-out and the engine. Submit
// persists new deliveries; Due claims the ones whose time has come.
// Ready, when non-nil, signals that Due may have new work before the next
// poll tick.
type Scheduler interface {
	Submit(ctx context.Context, ds []*Delivery) error
	Due(ctx context.Context, limit int) ([]*Delivery, error)
	Ready() <-chan struct{}
}

// StoreScheduler is the in-process Scheduler: the delivery Store is the
// queue and ClaimDue is the dequeue.
type StoreScheduler struct {
	store Store
	ready chan struct{}
	now   func() time.Time
}

// NewStoreScheduler returns a Scheduler over store.
func NewStoreScheduler(store Store) *StoreScheduler {
	return &StoreScheduler{
		store: store,
		ready: make(chan struct{}, 1),
		now:   time.Now,
	}
}

func (s *StoreScheduler) Submit(ctx context.Context, ds []*Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	var err error
	if len(ds) == 1 {
		err = s.store.Enqueue(ctx, ds[0])
	} else {
		err = s.store.EnqueueBatch(ctx, ds)
	}
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *StoreScheduler) Due(ctx context.Context, limit int) ([]*Delivery, error) {
	return s.store.ClaimDue(ctx, s.now().UTC(), limit)
}

func (s *StoreScheduler) Ready() <-chan struct{} { return s.ready }

func (s *StoreScheduler) notify() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
