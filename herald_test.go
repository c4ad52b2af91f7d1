package herald_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/store/memory"
)

func ctx() context.Context { return context.Background() }

func setup(t *testing.T, opts ...herald.Option) (*herald.Herald, *memory.Store) {
	t.Helper()
	s := memory.New()
	base := []herald.Option{
		herald.WithStore(s),
		herald.WithPollInterval(10 * time.Millisecond),
		herald.WithBackoff(20*time.Millisecond, 100*time.Millisecond, 0.1),
		herald.WithRequestTimeout(time.Second),
	}
	h, err := herald.New(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Stop(ctx()) })
	return h, s
}

func registerType(t *testing.T, h *herald.Herald, name string) {
	t.Helper()
	if _, err := h.RegisterEventType(ctx(), catalog.Definition{Name: name}); err != nil {
		t.Fatal(err)
	}
}

func registerEndpoint(t *testing.T, h *herald.Herald, tenant, url string, patterns ...string) *endpoint.Endpoint {
	t.Helper()
	ep, _, err := h.RegisterEndpoint(ctx(), endpoint.Input{TenantID: tenant, URL: url, EventTypes: patterns})
	if err != nil {
		t.Fatal(err)
	}
	return ep
}

func submit(t *testing.T, h *herald.Herald, tenant, eventType, body string) []id.ID {
	t.Helper()
	ids, err := h.SubmitEvent(ctx(), &event.Event{TenantID: tenant, Type: eventType, Data: []byte(body)})
	if err != nil {
		t.Fatal(err)
	}
	return ids
}

func waitState(t *testing.T, h *herald.Herald, delID id.ID, want delivery.State) *delivery.Delivery {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		d, err := h.GetDelivery(ctx(), delID)
		if err != nil {
			t.Fatal(err)
		}
		if d.State == want {
			return d
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivery %s is %s, want %s", delID, d.State, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receiver(codes ...int) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(hits.Add(1))
		if n > len(codes) {
			n = len(codes)
		}
		w.WriteHeader(codes[n-1])
	}))
	return srv, &hits
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := herald.New(); !errors.Is(err, herald.ErrNoStore) {
		t.Errorf("err = %v, want ErrNoStore", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := herald.New(herald.WithStore(memory.New()), herald.WithBackoff(time.Second, time.Minute, 0))
	if !errors.Is(err, herald.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := herald.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	tests := map[string]func(*herald.Config){
		"zero concurrency":       func(c *herald.Config) { c.Concurrency = 0 },
		"zero max attempts":      func(c *herald.Config) { c.MaxAttempts = 0 },
		"ceiling below base":     func(c *herald.Config) { c.BackoffCeiling = time.Second },
		"no jitter":              func(c *herald.Config) { c.BackoffJitter = 0 },
		"full jitter":            func(c *herald.Config) { c.BackoffJitter = 1 },
		"claim under request":    func(c *herald.Config) { c.ClaimTimeout = c.RequestTimeout },
		"negative threshold":     func(c *herald.Config) { c.FailureThreshold = -1 },
		"negative grace":         func(c *herald.Config) { c.SecretGracePeriod = -time.Second },
		"zero request timeout":   func(c *herald.Config) { c.RequestTimeout = 0 },
		"negative excerpt limit": func(c *herald.Config) { c.ResponseExcerptLimit = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := herald.DefaultConfig()
			mutate(&c)
			if err := c.Validate(); !errors.Is(err, herald.ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestRegisterEndpointReturnsSecretOnce(t *testing.T) {
	h, _ := setup(t)
	ep, secret, err := h.RegisterEndpoint(ctx(), endpoint.Input{
		TenantID:   "acme",
		URL:        "https://example.test/hook",
		EventTypes: []string{"job.completed"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if secret == "" || ep.Secret != secret {
		t.Fatal("expected the generated secret")
	}
	if !ep.Enabled {
		t.Error("new endpoint should be enabled")
	}
}

func TestRegisterEndpointValidation(t *testing.T) {
	h, _ := setup(t)
	bad := []endpoint.Input{
		{TenantID: "acme", URL: "ftp://example.test", EventTypes: []string{"*"}},
		{TenantID: "acme", URL: "https://", EventTypes: []string{"*"}},
		{TenantID: "acme", URL: "https://example.test", EventTypes: nil},
		{URL: "https://example.test", EventTypes: []string{"*"}},
	}
	for _, in := range bad {
		_, _, err := h.RegisterEndpoint(ctx(), in)
		var ve *herald.ValidationError
		if !errors.Is(err, herald.ErrValidation) || !errors.As(err, &ve) {
			t.Errorf("%+v: err = %v, want ValidationError", in, err)
		}
	}
}

func TestRegisterEventTypeValidation(t *testing.T) {
	h, _ := setup(t)
	_, err := h.RegisterEventType(ctx(), catalog.Definition{Name: "NotAName"})
	if !errors.Is(err, herald.ErrValidation) {
		t.Errorf("bad name: err = %v", err)
	}
	_, err = h.RegisterEventType(ctx(), catalog.Definition{Name: "job.completed", Schema: []byte(`{"type": 12}`)})
	if !errors.Is(err, herald.ErrValidation) {
		t.Errorf("bad schema: err = %v", err)
	}
}

func TestDisableEndpointIsIdempotent(t *testing.T) {
	h, s := setup(t)
	ep := registerEndpoint(t, h, "acme", "https://example.test/hook", "*")

	for i := 0; i < 2; i++ {
		if err := h.DisableEndpoint(ctx(), ep.ID); err != nil {
			t.Fatalf("disable #%d: %v", i+1, err)
		}
	}
	got, _ := s.GetEndpoint(ctx(), ep.ID)
	if got.Enabled {
		t.Error("endpoint still enabled")
	}

	_, _ = s.IncrementFailures(ctx(), ep.ID)
	if err := h.EnableEndpoint(ctx(), ep.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetEndpoint(ctx(), ep.ID)
	if !got.Enabled || got.ConsecutiveFailures != 0 || got.DisabledReason != "" {
		t.Errorf("enabled=%v failures=%d reason=%q", got.Enabled, got.ConsecutiveFailures, got.DisabledReason)
	}

	if err := h.DisableEndpoint(ctx(), id.NewEndpointID()); !errors.Is(err, herald.ErrEndpointNotFound) {
		t.Errorf("unknown endpoint: err = %v", err)
	}
}

func TestRotateSecretKeepsPreviousDuringGrace(t *testing.T) {
	h, s := setup(t)
	ep := registerEndpoint(t, h, "acme", "https://example.test/hook", "*")

	fresh, err := h.RotateSecret(ctx(), ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh == ep.Secret {
		t.Fatal("rotation returned the old secret")
	}
	got, _ := s.GetEndpoint(ctx(), ep.ID)
	secrets := got.SigningSecrets(time.Now())
	if len(secrets) != 2 || secrets[0] != fresh || secrets[1] != ep.Secret {
		t.Errorf("signing secrets = %v", secrets)
	}
	if after := got.SigningSecrets(time.Now().Add(25 * time.Hour)); len(after) != 1 {
		t.Errorf("secrets after grace = %d, want 1", len(after))
	}
}

func TestGetDeliveryNotFound(t *testing.T) {
	h, _ := setup(t)
	if _, err := h.GetDelivery(ctx(), id.NewDeliveryID()); !errors.Is(err, herald.ErrDeliveryNotFound) {
		t.Errorf("err = %v, want ErrDeliveryNotFound", err)
	}
}

func TestListDeliveriesPagination(t *testing.T) {
	h, _ := setup(t)
	registerType(t, h, "job.completed")
	ep := registerEndpoint(t, h, "acme", "https://example.test/hook", "job.completed")
	for i := 0; i < 5; i++ {
		submit(t, h, "acme", "job.completed", `{}`)
	}

	page, err := h.ListDeliveries(ctx(), delivery.ListOpts{EndpointID: ep.ID, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || !page.HasMore {
		t.Errorf("first page: %d items, has_more=%v", len(page.Items), page.HasMore)
	}
	last, _ := h.ListDeliveries(ctx(), delivery.ListOpts{EndpointID: ep.ID, Offset: 4, Limit: 2})
	if len(last.Items) != 1 || last.HasMore {
		t.Errorf("last page: %d items, has_more=%v", len(last.Items), last.HasMore)
	}

	def, _ := h.ListDeliveries(ctx(), delivery.ListOpts{})
	if def.Limit != herald.DefaultPageLimit {
		t.Errorf("default limit = %d", def.Limit)
	}
	big, _ := h.ListDeliveries(ctx(), delivery.ListOpts{Limit: 10_000})
	if big.Limit != herald.MaxPageLimit {
		t.Errorf("capped limit = %d", big.Limit)
	}
	if _, err := h.ListDeliveries(ctx(), delivery.ListOpts{State: "lost"}); !errors.Is(err, herald.ErrValidation) {
		t.Errorf("bad state: err = %v", err)
	}
}

func TestRetryThenDeliver(t *testing.T) {
	srv, hits := receiver(500, 500, 200)
	defer srv.Close()

	h, _ := setup(t)
	registerType(t, h, "job.completed")
	registerEndpoint(t, h, "acme", srv.URL, "job.completed")
	h.Start(ctx())

	ids := submit(t, h, "acme", "job.completed", `{"job_id":"42"}`)
	if len(ids) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(ids))
	}
	d := waitState(t, h, ids[0], delivery.StateDelivered)

	if d.AttemptCount() != 3 || hits.Load() != 3 {
		t.Fatalf("attempts=%d hits=%d, want 3", d.AttemptCount(), hits.Load())
	}
	lo, _ := delivery.Backoff{Base: 20 * time.Millisecond, Ceiling: 100 * time.Millisecond, Jitter: 0.1}.Bounds(1)
	if gap := d.Attempts[1].AttemptedAt.Sub(d.Attempts[0].AttemptedAt); gap < lo {
		t.Errorf("gap between attempts 1 and 2 = %v, want >= %v", gap, lo)
	}
}

func TestAlways404FailsAfterOneAttempt(t *testing.T) {
	srv, hits := receiver(404)
	defer srv.Close()

	h, _ := setup(t)
	registerType(t, h, "job.completed")
	registerEndpoint(t, h, "acme", srv.URL, "job.completed")
	h.Start(ctx())

	ids := submit(t, h, "acme", "job.completed", `{"job_id":"42"}`)
	d := waitState(t, h, ids[0], delivery.StateFailed)
	time.Sleep(60 * time.Millisecond)

	if d.AttemptCount() != 1 || hits.Load() != 1 {
		t.Errorf("attempts=%d hits=%d, want 1", d.AttemptCount(), hits.Load())
	}
}

func TestMaxAttemptsExhausted(t *testing.T) {
	srv, hits := receiver(503)
	defer srv.Close()

	h, _ := setup(t, herald.WithMaxAttempts(4))
	registerType(t, h, "job.completed")
	registerEndpoint(t, h, "acme", srv.URL, "job.completed")
	h.Start(ctx())

	ids := submit(t, h, "acme", "job.completed", `{}`)
	d := waitState(t, h, ids[0], delivery.StateFailed)
	if d.AttemptCount() != 4 || hits.Load() != 4 {
		t.Fatalf("attempts=%d hits=%d, want 4", d.AttemptCount(), hits.Load())
	}

	b := delivery.Backoff{Base: 20 * time.Millisecond, Ceiling: 100 * time.Millisecond, Jitter: 0.1}
	for n := 1; n < len(d.Attempts); n++ {
		lo, _ := b.Bounds(n)
		if gap := d.Attempts[n].AttemptedAt.Sub(d.Attempts[n-1].AttemptedAt); gap < lo {
			t.Errorf("gap after attempt %d = %v, want >= %v", n, gap, lo)
		}
	}
}

func TestReplayFailedDelivery(t *testing.T) {
	srv, _ := receiver(404, 200)
	defer srv.Close()

	h, _ := setup(t)
	registerType(t, h, "job.completed")
	registerEndpoint(t, h, "acme", srv.URL, "job.completed")
	h.Start(ctx())

	ids := submit(t, h, "acme", "job.completed", `{}`)
	orig := waitState(t, h, ids[0], delivery.StateFailed)

	replay, err := h.Replay(ctx(), orig.ID)
	if err != nil {
		t.Fatal(err)
	}
	if replay.ID.String() == orig.ID.String() {
		t.Fatal("replay reused the original ID")
	}
	if replay.AttemptCount() != 0 || replay.ReplayOf.String() != orig.ID.String() || replay.EventID.String() != orig.EventID.String() {
		t.Errorf("replay = %+v", replay)
	}

	waitState(t, h, replay.ID, delivery.StateDelivered)
	again, _ := h.GetDelivery(ctx(), orig.ID)
	if again.State != delivery.StateFailed || again.AttemptCount() != 1 {
		t.Errorf("original changed: state=%s attempts=%d", again.State, again.AttemptCount())
	}
}

func TestReplayToDisabledEndpoint(t *testing.T) {
	h, _ := setup(t)
	registerType(t, h, "job.completed")
	ep := registerEndpoint(t, h, "acme", "https://example.test/hook", "job.completed")
	ids := submit(t, h, "acme", "job.completed", `{}`)

	_ = h.DisableEndpoint(ctx(), ep.ID)
	if _, err := h.Replay(ctx(), ids[0]); !errors.Is(err, herald.ErrEndpointDisabled) {
		t.Errorf("err = %v, want ErrEndpointDisabled", err)
	}
}

func TestDisableMidRetryAbandons(t *testing.T) {
	srv, hits := receiver(500)
	defer srv.Close()

	h, _ := setup(t, herald.WithBackoff(300*time.Millisecond, time.Second, 0.1))
	registerType(t, h, "job.completed")
	ep := registerEndpoint(t, h, "acme", srv.URL, "job.completed")
	h.Start(ctx())

	ids := submit(t, h, "acme", "job.completed", `{}`)
	waitState(t, h, ids[0], delivery.StateRetrying)
	if err := h.DisableEndpoint(ctx(), ep.ID); err != nil {
		t.Fatal(err)
	}

	d := waitState(t, h, ids[0], delivery.StateAbandoned)
	if d.AttemptCount() != 1 || hits.Load() != 1 {
		t.Errorf("attempts=%d hits=%d, want 1", d.AttemptCount(), hits.Load())
	}
}

func TestStopWithoutStart(t *testing.T) {
	h, _ := setup(t)
	if err := h.Stop(ctx()); err != nil {
		t.Errorf("Stop = %v", err)
	}
}

type typeCountingStore struct {
	*memory.Store
	gets atomic.Int32
}

func (s *typeCountingStore) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	s.gets.Add(1)
	return s.Store.GetType(ctx, name)
}

func TestStartWarmsEventTypeCache(t *testing.T) {
	s := &typeCountingStore{Store: memory.New()}
	if _, err := catalog.New(s, 0, nil).Register(ctx(), catalog.Definition{Name: "invoice.paid"}, nil); err != nil {
		t.Fatal(err)
	}
	h, err := herald.New(herald.WithStore(s), herald.WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Stop(ctx()) })
	s.gets.Store(0)

	h.Start(ctx())
	if _, err := h.Catalog().Lookup(ctx(), "invoice.paid"); err != nil {
		t.Fatal(err)
	}
	if n := s.gets.Load(); n != 0 {
		t.Errorf("store GetType called %d times after Start, want 0", n)
	}
}
