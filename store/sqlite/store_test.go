package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/store/sqlite"
)

func ctx() context.Context { return context.Background() }

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "herald.db") + "?_pragma=busy_timeout(5000)"
	s, err := sqlite.Open(ctx(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	return s
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

func seedDeliveries(t *testing.T, s *sqlite.Store, n int, due time.Time) []*delivery.Delivery {
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

func TestMigrateTwice(t *testing.T) {
	s := openStore(t)
	if err := s.Migrate(ctx()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
}

func TestCatalogSoftDelete(t *testing.T) {
	s := openStore(t)
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
	if !got.Deprecated || got.ID.String() != et.ID.String() {
		t.Errorf("deprecated=%v id=%s, want deprecated type %s", got.Deprecated, got.ID, et.ID)
	}
	if _, err := s.GetType(ctx(), "nope.nope"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("err = %v, want catalog.ErrNotFound", err)
	}
}

func TestEndpointRoundTripAndResolve(t *testing.T) {
	s := openStore(t)
	a := newEndpoint("acme", "request.*")
	a.Headers = map[string]string{"X-Team": "payroll"}
	a.RateLimit = 5
	b := newEndpoint("acme", "balance.adjusted")
	c := newEndpoint("globex", "*")
	d := newEndpoint("acme", "*")
	for _, ep := range []*endpoint.Endpoint{a, b, c, d} {
		if err := s.CreateEndpoint(ctx(), ep); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetEnabled(ctx(), d.ID, false, "manual"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEndpoint(ctx(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Headers["X-Team"] != "payroll" || got.RateLimit != 5 || len(got.EventTypes) != 1 {
		t.Errorf("round trip lost fields: %+v", got)
	}

	resolved, err := s.Resolve(ctx(), "acme", "request.approved")
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 1 || resolved[0].ID.String() != a.ID.String() {
		t.Errorf("resolved %d endpoints, want only %s", len(resolved), a.ID)
	}

	if _, err := s.GetEndpoint(ctx(), id.NewEndpointID()); !errors.Is(err, endpoint.ErrNotFound) {
		t.Errorf("err = %v, want endpoint.ErrNotFound", err)
	}
}

func TestUpdateEndpointKeepsHealth(t *testing.T) {
	s := openStore(t)
	ep := newEndpoint("acme", "*")
	if err := s.CreateEndpoint(ctx(), ep); err != nil {
		t.Fatal(err)
	}
	if n, err := s.IncrementFailures(ctx(), ep.ID); err != nil || n != 1 {
		t.Fatalf("increment = %d, %v", n, err)
	}
	if err := s.SetEnabled(ctx(), ep.ID, false, "manual"); err != nil {
		t.Fatal(err)
	}

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
	s := openStore(t)
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

func TestClaimDueRespectsTimeAndLimit(t *testing.T) {
	s := openStore(t)
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

func TestSaveAttemptRequiresClaim(t *testing.T) {
	s := openStore(t)
	now := time.Now().UTC()
	seedDeliveries(t, s, 1, now)

	claimed, err := s.ClaimDue(ctx(), now, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim = %d, %v", len(claimed), err)
	}
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
	if err := s.SaveAttempt(ctx(), d); !errors.Is(err, delivery.ErrClaimLost) {
		t.Errorf("err = %v, want ErrClaimLost", err)
	}

	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != delivery.StateDelivered || len(got.Attempts) != 1 || got.Attempts[0].StatusCode != 200 {
		t.Errorf("stored state=%s attempts=%v", got.State, got.Attempts)
	}
}

func TestRequeueStaleAndCount(t *testing.T) {
	s := openStore(t)
	now := time.Now().UTC()
	seedDeliveries(t, s, 2, now)
	seedDeliveries(t, s, 1, now.Add(time.Hour))
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
	counts, err := s.CountByState(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if counts[delivery.StateRetrying] != 2 || counts[delivery.StatePending] != 1 || counts[delivery.StateInFlight] != 0 {
		t.Errorf("counts = %v", counts)
	}
}

func TestListDeliveriesFilters(t *testing.T) {
	s := openStore(t)
	now := time.Now().UTC()
	ep := id.NewEndpointID()
	for i := 0; i < 5; i++ {
		d := delivery.New(id.NewEventID(), ep, 3, now)
		d.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		if err := s.Enqueue(ctx(), d); err != nil {
			t.Fatal(err)
		}
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
}
