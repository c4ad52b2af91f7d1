package catalog_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/store/memory"
)

func newCatalog(ttl time.Duration) *catalog.Catalog {
	return catalog.New(memory.New(), ttl, nil)
}

func TestRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(time.Minute)

	et, err := c.Register(ctx, catalog.Definition{Name: "request.approved", Version: "2025-01-01"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if et.ID.IsNil() {
		t.Fatal("expected an ID")
	}

	got, err := c.Lookup(ctx, "request.approved")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != et.ID.String() {
		t.Errorf("lookup returned %s, want %s", got.ID, et.ID)
	}
}

func TestRegisterKeepsIDOnUpdate(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(0)

	first, err := c.Register(ctx, catalog.Definition{Name: "balance.adjusted", Version: "v1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Register(ctx, catalog.Definition{Name: "balance.adjusted", Version: "v2"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID.String() != second.ID.String() {
		t.Error("re-registering should keep the ID")
	}
	got, _ := c.Get(ctx, "balance.adjusted")
	if got.Definition.Version != "v2" {
		t.Errorf("version = %q, want v2", got.Definition.Version)
	}
}

func TestRegisterRejectsBadNames(t *testing.T) {
	c := newCatalog(0)
	for _, name := range []string{"", "approved", "Request.Approved", "request..approved", "request.approved."} {
		if _, err := c.Register(context.Background(), catalog.Definition{Name: name}, nil); err == nil {
			t.Errorf("name %q: expected error", name)
		}
	}
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	c := newCatalog(0)
	_, err := c.Register(context.Background(), catalog.Definition{
		Name:   "request.approved",
		Schema: json.RawMessage(`{"type": 12}`),
	}, nil)
	if err == nil {
		t.Fatal("expected schema compile error")
	}
}

func TestLookupUnknown(t *testing.T) {
	c := newCatalog(0)
	if _, err := c.Lookup(context.Background(), "nope.nope"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeprecate(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(time.Minute)

	if _, err := c.Register(ctx, catalog.Definition{Name: "request.denied"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := c.Deprecate(ctx, "request.denied"); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Lookup(ctx, "request.denied"); !errors.Is(err, catalog.ErrDeprecated) {
		t.Errorf("lookup err = %v, want ErrDeprecated", err)
	}
	if _, err := c.Register(ctx, catalog.Definition{Name: "request.denied"}, nil); !errors.Is(err, catalog.ErrDeprecated) {
		t.Errorf("re-register err = %v, want ErrDeprecated", err)
	}

	live, err := c.List(ctx, catalog.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 0 {
		t.Errorf("live types = %d, want 0", len(live))
	}
	all, _ := c.List(ctx, catalog.ListOpts{IncludeDeprecated: true})
	if len(all) != 1 {
		t.Errorf("all types = %d, want 1", len(all))
	}
}

func TestCacheTTL(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	c := catalog.New(s, time.Millisecond, nil)

	if _, err := c.Register(ctx, catalog.Definition{Name: "request.cancelled"}, nil); err != nil {
		t.Fatal(err)
	}
	// Deprecate behind the catalog's back; the stale entry must expire.
	if err := s.DeleteType(ctx, "request.cancelled"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := c.Lookup(ctx, "request.cancelled"); !errors.Is(err, catalog.ErrDeprecated) {
		t.Errorf("err = %v, want ErrDeprecated after TTL", err)
	}
}

func TestValidatePayload(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(0)

	et, err := c.Register(ctx, catalog.Definition{
		Name:   "request.submitted",
		Schema: json.RawMessage(`{"type":"object","required":["request_id"]}`),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.ValidatePayload(et, json.RawMessage(`{"request_id":"r1"}`)); err != nil {
		t.Errorf("valid payload: %v", err)
	}
	if err := c.ValidatePayload(et, json.RawMessage(`{}`)); err == nil {
		t.Error("expected validation error")
	}
}

type countingStore struct {
	*memory.Store
	gets int
}

func (s *countingStore) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	s.gets++
	return s.Store.GetType(ctx, name)
}

func TestWarmCacheServesLookupsWithoutStore(t *testing.T) {
	ctx := context.Background()
	s := &countingStore{Store: memory.New()}

	// Registered through another catalog, so this one starts cold.
	if _, err := catalog.New(s, 0, nil).Register(ctx, catalog.Definition{Name: "invoice.paid"}, nil); err != nil {
		t.Fatal(err)
	}
	s.gets = 0

	c := catalog.New(s, 0, nil)
	if err := c.WarmCache(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Lookup(ctx, "invoice.paid"); err != nil {
		t.Fatal(err)
	}
	if s.gets != 0 {
		t.Errorf("store GetType called %d times after warm-up, want 0", s.gets)
	}
}
