package endpoint_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/store/memory"
)

func newService() (*endpoint.Service, *memory.Store) {
	s := memory.New()
	return endpoint.NewService(s, time.Hour, nil), s
}

func validInput() endpoint.Input {
	return endpoint.Input{
		TenantID:   "acme",
		URL:        "https://hooks.example.com/timeoff",
		EventTypes: []string{"request.*"},
	}
}

func TestCreate(t *testing.T) {
	svc, _ := newService()

	ep, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if ep.ID.Prefix() != id.PrefixEndpoint {
		t.Errorf("prefix = %q", ep.ID.Prefix())
	}
	if !strings.HasPrefix(ep.Secret, "whsec_") {
		t.Errorf("secret = %q", ep.Secret)
	}
	if !ep.Enabled {
		t.Error("new endpoints start enabled")
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService()

	cases := map[string]func(*endpoint.Input){
		"tenant_id":    func(in *endpoint.Input) { in.TenantID = "" },
		"url":          func(in *endpoint.Input) { in.URL = "" },
		"ftp scheme":   func(in *endpoint.Input) { in.URL = "ftp://example.com/x" },
		"no host":      func(in *endpoint.Input) { in.URL = "https:///path" },
		"event_types":  func(in *endpoint.Input) { in.EventTypes = nil },
		"blank type":   func(in *endpoint.Input) { in.EventTypes = []string{" "} },
		"reserved hdr": func(in *endpoint.Input) { in.Headers = map[string]string{"x-webhook-signature": "x"} },
		"max_attempts": func(in *endpoint.Input) { in.MaxAttempts = 1000 },
		"rate_limit":   func(in *endpoint.Input) { in.RateLimit = -1 },
	}
	for name, mutate := range cases {
		in := validInput()
		mutate(&in)
		_, err := svc.Create(context.Background(), in)
		var ve *endpoint.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: err = %v, want ValidationError", name, err)
		}
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	ep, _ := svc.Create(ctx, validInput())

	desc := "payroll sync"
	got, err := svc.Update(ctx, ep.ID, endpoint.Patch{Description: &desc, EventTypes: []string{"*"}})
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != desc || got.EventTypes[0] != "*" {
		t.Errorf("update not applied: %+v", got)
	}

	bad := "mailto:x@example.com"
	if _, err := svc.Update(ctx, ep.ID, endpoint.Patch{URL: &bad}); err == nil {
		t.Error("expected URL validation error")
	}
}

func TestGetUnknown(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.Get(context.Background(), id.NewEndpointID()); !errors.Is(err, endpoint.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDisableIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	ep, _ := svc.Create(ctx, validInput())

	for i := 0; i < 2; i++ {
		if err := svc.Disable(ctx, ep.ID, "manual"); err != nil {
			t.Fatalf("disable #%d: %v", i+1, err)
		}
	}
	got, _ := svc.Get(ctx, ep.ID)
	if got.Enabled || got.DisabledReason != "manual" {
		t.Errorf("enabled=%v reason=%q", got.Enabled, got.DisabledReason)
	}

	if err := svc.Enable(ctx, ep.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.Get(ctx, ep.ID)
	if !got.Enabled || got.DisabledReason != "" {
		t.Errorf("after enable: enabled=%v reason=%q", got.Enabled, got.DisabledReason)
	}
}

func TestEnableResetsFailures(t *testing.T) {
	ctx := context.Background()
	svc, s := newService()
	ep, _ := svc.Create(ctx, validInput())

	for i := 0; i < 3; i++ {
		if _, err := s.IncrementFailures(ctx, ep.ID); err != nil {
			t.Fatal(err)
		}
	}
	_ = svc.Disable(ctx, ep.ID, "too many failures")
	_ = svc.Enable(ctx, ep.ID)

	got, _ := svc.Get(ctx, ep.ID)
	if got.ConsecutiveFailures != 0 {
		t.Errorf("failures = %d, want 0", got.ConsecutiveFailures)
	}
}

func TestRotateSecretGrace(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	ep, _ := svc.Create(ctx, validInput())
	old := ep.Secret

	fresh, err := svc.RotateSecret(ctx, ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh == old {
		t.Fatal("rotation returned the old secret")
	}

	got, _ := svc.Get(ctx, ep.ID)
	now := time.Now()
	secrets := got.SigningSecrets(now)
	if len(secrets) != 2 || secrets[0] != fresh || secrets[1] != old {
		t.Errorf("signing secrets during grace = %v", secrets)
	}
	if after := got.SigningSecrets(now.Add(2 * time.Hour)); len(after) != 1 || after[0] != fresh {
		t.Errorf("signing secrets after grace = %v", after)
	}
}

func TestSubscribesAndAttemptLimit(t *testing.T) {
	ep := &endpoint.Endpoint{EventTypes: []string{"request.approved", "balance.*"}}
	if !ep.Subscribes("balance.adjusted") || ep.Subscribes("request.denied") {
		t.Error("subscription matching is wrong")
	}
	if ep.AttemptLimit(10) != 10 {
		t.Error("unset override should use default")
	}
	ep.MaxAttempts = 3
	if ep.AttemptLimit(10) != 3 {
		t.Error("override ignored")
	}
}
