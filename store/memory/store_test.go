package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/store"
)

func ctx() context.Context { return context.Background() }

func TestLifecycle(t *testing.T) {
	s := New()
	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	if err := s.Ping(ctx()); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestCatalogSoftDelete(t *testing.T) {
	s := New()
	et := &catalog.EventType{Entity: entity.New(), ID: id.NewEventTypeID(), Definition: catalog.Definition{Name: "request.approved"}}
	if err := s.RegisterType(ctx(), et); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteType(ctx(), "request.approved"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetType(ctx(), "request.approved")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Deprecated || got.DeprecatedAt == nil {
		t.Error("expected deprecated type to stay readable")
	}
	if err := s.DeleteType(ctx(), "nope.nope"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("err = %v, want catalog.ErrNotFound", err)
	}
}

func newEndpoint(tenant string, patterns ...string) *endpoint.Endpoint {
	return &endpoint.Endpoint{
		Entity:     entity.New(),
		ID:         id.NewEndpointID(),
		TenantID:   tenant,
		URL:        "https://example.com/hook",
		Secret:     "whsec_x",
		EventTypes: patterns,
		Enabled:    true,
	}
}

func TestResolve(t *testing.T) {
	s := New()
	a := newEndpoint("acme", "request.*")
	b := newEndpoint("acme", "balance.adjusted")
	c := newEndpoint("globex", "*")
	d := newEndpoint("acme", "*")
	for _, ep := range []*endpoint.Endpoint{a, b, c, d} {
		_ = s.CreateEndpoint(ctx(), ep)
	}
	_ = s.SetEnabled(ctx(), d.ID, false, "manual")

	got, err := s.Resolve(ctx(), "acme", "request.approved")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID.String() != a.ID.String() {
		t.Errorf("resolved %d endpoints, want only %s", len(got), a.ID)
	}
}

func TestUpdateEndpointKeepsHealth(t *testing.T) {
	s := New()
	ep := newEndpoint("acme", "*")
	_ = s.CreateEndpoint(ctx(), ep)
	_, _ = s.IncrementFailures(ctx(), ep.ID)
	_ = s.SetEnabled(ctx(), ep.ID, false, "manual")

	stale := *ep
	stale.Description = "edited"
	if err := s.UpdateEndpoint(ctx(), &stale); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetEndpoint(ctx(), ep.ID)
	if got.Enabled || got.ConsecutiveFailures != 1 || got.Description != "edited" {
		t.Errorf("got enabled=%v failures=%d desc=%q", got.Enabled, got.ConsecutiveFailures, got.Description)
	}
}

func TestIdempotencyKeyPerTenant(t *testing.T) {
	s := New()
	mk := func(tenant string) *event.Event {
		return &event.Event{Entity: entity.New(), ID: id.NewEventID(), TenantID: tenant, Type: "request.approved",
			Data: json.RawMessage(`{}`), IdempotencyKey: "req-1"}
	}
	if err := s.CreateEvent(ctx(), mk("acme")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateEvent(ctx(), mk("acme")); !errors.Is(err, event.ErrDuplicateIdempotencyKey) {
		t.Errorf("err = %v, want ErrDuplicateIdempotencyKey", err)
	}
	if err := s.CreateEvent(ctx(), mk("globex")); err != nil {
		t.Errorf("other tenant with same key: %v", err)
	}
}

func seedDeliveries(t *testing.T, s *Store, n int, due time.Time) []*delivery.Delivery {
	t.Helper()
	ds := make([]*delivery.Delivery, n)
	for i := range ds {
		ds[i] = delivery.New(id.NewEventID(), id.NewEndpointID(), 3, due)
	}
	if err := s.EnqueueBatch(ctx(), ds); err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestClaimDueRespectsTimeAndLimit(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	seedDeliveries(t, s, 3, now.Add(-time.Second))
	seedDeliveries(t, s, 2, now.Add(time.Hour))

	got, err := s.ClaimDue(ctx(), now, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("claimed %d, want 2", len(got))
	}
	for _, d := range got {
		if d.State != delivery.StateInFlight || d.ClaimToken == "" {
			t.Errorf("claimed delivery state=%s token=%q", d.State, d.ClaimToken)
		}
	}

	rest, _ := s.ClaimDue(ctx(), now, 10)
	if len(rest) != 1 {
		t.Errorf("second claim got %d, want 1", len(rest))
	}
	none, _ := s.ClaimDue(ctx(), now, 10)
	if len(none) != 0 {
		t.Errorf("third claim got %d, want 0", len(none))
	}
}

func TestClaimDueConcurrent(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	seedDeliveries(t, s, 200, now)

	var (
		mu     sync.Mutex
		seen   = make(map[string]int)
		wg     sync.WaitGroup
		claims = 16
	)
	for i := 0; i < claims; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.ClaimDue(ctx(), now, 7)
				if err != nil {
					t.Error(err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, d := range batch {
					seen[d.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 200 {
		t.Errorf("claimed %d distinct deliveries, want 200", len(seen))
	}
	for delID, n := range seen {
		if n != 1 {
			t.Errorf("delivery %s claimed %d times", delID, n)
		}
	}
}

func TestSaveAttemptRequiresClaim(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	seedDeliveries(t, s, 1, now)

	claimed, _ := s.ClaimDue(ctx(), now, 1)
	d := claimed[0]

	forged := d.Clone()
	forged.ClaimToken = "someone-else"
	_ = forged.Abandon("x", now)
	if err := s.SaveAttempt(ctx(), forged); !errors.Is(err, delivery.ErrClaimLost) {
		t.Fatalf("err = %v, want ErrClaimLost", err)
	}

	a := delivery.Attempt{Number: 1, AttemptedAt: now, Outcome: delivery.OutcomeSuccess, StatusCode: 200}
	if err := d.Succeed(a, now); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAttempt(ctx(), d); err != nil {
		t.Fatal(err)
	}
	// A second save of the same claim is a double-processing signal.
	if err := s.SaveAttempt(ctx(), d); !errors.Is(err, delivery.ErrClaimLost) {
		t.Errorf("err = %v, want ErrClaimLost", err)
	}

	got, _ := s.GetDelivery(ctx(), d.ID)
	if got.State != delivery.StateDelivered || len(got.Attempts) != 1 {
		t.Errorf("stored state=%s attempts=%d", got.State, len(got.Attempts))
	}
}

func TestRequeueStale(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	seedDeliveries(t, s, 2, now)
	if _, err := s.ClaimDue(ctx(), now, 2); err != nil {
		t.Fatal(err)
	}

	n, err := s.RequeueStale(ctx(), now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("requeued %d, want 2", n)
	}
	counts, _ := s.CountByState(ctx())
	if counts[delivery.StateRetrying] != 2 {
		t.Errorf("counts = %v", counts)
	}
}

func TestListDeliveriesFilters(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	ep := id.NewEndpointID()
	for i := 0; i < 5; i++ {
		d := delivery.New(id.NewEventID(), ep, 3, now)
		d.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		_ = s.Enqueue(ctx(), d)
	}
	seedDeliveries(t, s, 3, now)

	page, err := s.ListDeliveries(ctx(), delivery.ListOpts{EndpointID: ep, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("page size %d, want 2", len(page))
	}
	if !page[0].CreatedAt.After(page[1].CreatedAt) {
		t.Error("expected newest first")
	}

	from := now.Add(150 * time.Second)
	recent, _ := s.ListDeliveries(ctx(), delivery.ListOpts{EndpointID: ep, From: &from})
	if len(recent) != 2 {
		t.Errorf("time-filtered %d, want 2", len(recent))
	}

	failed, _ := s.ListDeliveries(ctx(), delivery.ListOpts{State: delivery.StateFailed})
	if len(failed) != 0 {
		t.Errorf("failed = %d, want 0", len(failed))
	}
}
