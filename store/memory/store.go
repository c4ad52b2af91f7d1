// Package memory is a mutex-guarded in-process Store for tests and
// single-process deployments.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps everything in maps. Values are copied in and out so callers
// never share memory with the store.
type Store struct {
	mu sync.RWMutex

	types      map[string]*catalog.EventType
	endpoints  map[string]*endpoint.Endpoint
	events     map[string]*event.Event
	idemKeys   map[string]string
	deliveries map[string]*delivery.Delivery

	closed bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		types:      make(map[string]*catalog.EventType),
		endpoints:  make(map[string]*endpoint.Endpoint),
		events:     make(map[string]*event.Event),
		idemKeys:   make(map[string]string),
		deliveries: make(map[string]*delivery.Delivery),
	}
}

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ── catalog.Store ─────────────────────────────────

func (s *Store) RegisterType(_ context.Context, et *catalog.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *et
	s.types[et.Name()] = &cp
	return nil
}

func (s *Store) GetType(_ context.Context, name string) (*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	et, ok := s.types[name]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *et
	return &cp, nil
}

func (s *Store) ListTypes(_ context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*catalog.EventType
	for _, et := range s.types {
		if et.Deprecated && !opts.IncludeDeprecated {
			continue
		}
		if opts.Group != "" && et.Definition.Group != opts.Group {
			continue
		}
		cp := *et
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *catalog.EventType) int {
		if a.Name() < b.Name() {
			return -1
		}
		if a.Name() > b.Name() {
			return 1
		}
		return 0
	})
	return store.Paginate(out, opts.Offset, opts.Limit), nil
}

func (s *Store) DeleteType(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	et, ok := s.types[name]
	if !ok {
		return catalog.ErrNotFound
	}
	now := time.Now().UTC()
	et.Deprecated = true
	et.DeprecatedAt = &now
	et.UpdatedAt = now
	return nil
}

// ── endpoint.Store ────────────────────────────────

func (s *Store) CreateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ep
	s.endpoints[ep.ID.String()] = &cp
	return nil
}

func (s *Store) GetEndpoint(_ context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return nil, endpoint.ErrNotFound
	}
	cp := *ep
	return &cp, nil
}

func (s *Store) UpdateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.endpoints[ep.ID.String()]
	if !ok {
		return endpoint.ErrNotFound
	}
	cp := *ep
	// Health fields are owned by SetEnabled and the failure counter.
	cp.Enabled, cp.DisabledReason, cp.ConsecutiveFailures = cur.Enabled, cur.DisabledReason, cur.ConsecutiveFailures
	s.endpoints[ep.ID.String()] = &cp
	return nil
}

func (s *Store) ListEndpoints(_ context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if tenantID != "" && ep.TenantID != tenantID {
			continue
		}
		if opts.Enabled != nil && ep.Enabled != *opts.Enabled {
			continue
		}
		cp := *ep
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *endpoint.Endpoint) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return store.Paginate(out, opts.Offset, opts.Limit), nil
}

func (s *Store) Resolve(_ context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if ep.TenantID == tenantID && ep.Enabled && ep.Subscribes(eventType) {
			cp := *ep
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *endpoint.Endpoint) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *Store) SetEnabled(_ context.Context, epID id.ID, enabled bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return endpoint.ErrNotFound
	}
	ep.Enabled = enabled
	ep.DisabledReason = reason
	if enabled {
		ep.DisabledReason = ""
		ep.ConsecutiveFailures = 0
	}
	ep.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) IncrementFailures(_ context.Context, epID id.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return 0, endpoint.ErrNotFound
	}
	ep.ConsecutiveFailures++
	return ep.ConsecutiveFailures, nil
}

func (s *Store) ResetFailures(_ context.Context, epID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return endpoint.ErrNotFound
	}
	ep.ConsecutiveFailures = 0
	return nil
}

// ── event.Store ───────────────────────────────────

func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evt.IdempotencyKey != "" {
		key := evt.TenantID + "\x00" + evt.IdempotencyKey
		if _, dup := s.idemKeys[key]; dup {
			return event.ErrDuplicateIdempotencyKey
		}
		s.idemKeys[key] = evt.ID.String()
	}
	cp := *evt
	cp.Data = slices.Clone(evt.Data)
	s.events[evt.ID.String()] = &cp
	return nil
}

func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, event.ErrNotFound
	}
	cp := *evt
	cp.Data = slices.Clone(evt.Data)
	return &cp, nil
}

func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*event.Event
	for _, evt := range s.events {
		if opts.TenantID != "" && evt.TenantID != opts.TenantID {
			continue
		}
		if opts.Type != "" && evt.Type != opts.Type {
			continue
		}
		if !inRange(evt.CreatedAt, opts.From, opts.To) {
			continue
		}
		cp := *evt
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *event.Event) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return store.Paginate(out, opts.Offset, opts.Limit), nil
}

// ── delivery.Store ────────────────────────────────

func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	return s.EnqueueBatch(ctx, []*delivery.Delivery{d})
}

func (s *Store) EnqueueBatch(_ context.Context, ds []*delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range ds {
		s.deliveries[d.ID.String()] = d.Clone()
	}
	return nil
}

func (s *Store) ClaimDue(_ context.Context, now time.Time, limit int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*delivery.Delivery
	for _, d := range s.deliveries {
		if d.State.Claimable() && !d.NextAttemptAt.After(now) {
			due = append(due, d)
		}
	}
	slices.SortFunc(due, func(a, b *delivery.Delivery) int { return a.NextAttemptAt.Compare(b.NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	token := uuid.NewString()
	out := make([]*delivery.Delivery, 0, len(due))
	for _, d := range due {
		if err := d.Claim(token, now); err != nil {
			return nil, err
		}
		out = append(out, d.Clone())
	}
	return out, nil
}

func (s *Store) SaveAttempt(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.deliveries[d.ID.String()]
	if !ok {
		return delivery.ErrNotFound
	}
	if cur.State != delivery.StateInFlight || cur.ClaimToken != d.ClaimToken {
		return delivery.ErrClaimLost
	}
	s.deliveries[d.ID.String()] = d.Clone()
	return nil
}

func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *Store) ListDeliveries(_ context.Context, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*delivery.Delivery
	for _, d := range s.deliveries {
		if !opts.EndpointID.IsNil() && d.EndpointID.String() != opts.EndpointID.String() {
			continue
		}
		if !opts.EventID.IsNil() && d.EventID.String() != opts.EventID.String() {
			continue
		}
		if opts.State != "" && d.State != opts.State {
			continue
		}
		if !inRange(d.CreatedAt, opts.From, opts.To) {
			continue
		}
		out = append(out, d.Clone())
	}
	slices.SortFunc(out, func(a, b *delivery.Delivery) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID.String() > b.ID.String() {
			return -1
		}
		return 1
	})
	return store.Paginate(out, opts.Offset, opts.Limit), nil
}

func (s *Store) CountByState(context.Context) (map[delivery.State]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[delivery.State]int64)
	for _, d := range s.deliveries {
		counts[d.State]++
	}
	return counts, nil
}

func (s *Store) RequeueStale(_ context.Context, claimedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, d := range s.deliveries {
		if d.State == delivery.StateInFlight && d.ClaimedAt != nil && d.ClaimedAt.Before(claimedBefore) {
			d.State = delivery.StateRetrying
			d.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
