package id

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewPrefixes(t *testing.T) {
	cases := []struct {
		got  ID
		want Prefix
	}{
		{NewEventTypeID(), PrefixEventType},
		{NewEndpointID(), PrefixEndpoint},
		{NewEventID(), PrefixEvent},
		{NewDeliveryID(), PrefixDelivery},
	}
	for _, c := range cases {
		if c.got.Prefix() != c.want {
			t.Errorf("prefix = %q, want %q", c.got.Prefix(), c.want)
		}
		if !strings.HasPrefix(c.got.String(), string(c.want)+"_") {
			t.Errorf("string %q missing prefix %q", c.got.String(), c.want)
		}
	}
}

func TestParseWithPrefix(t *testing.T) {
	del := NewDeliveryID()

	got, err := ParseDeliveryID(del.String())
	if err != nil {
		t.Fatalf("ParseDeliveryID: %v", err)
	}
	if got.String() != del.String() {
		t.Errorf("round trip = %q, want %q", got, del)
	}

	if _, err := ParseEndpointID(del.String()); err == nil {
		t.Error("expected prefix mismatch error")
	}
	if _, err := Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilJSON(t *testing.T) {
	type wrapper struct {
		ReplayOf ID `json:"replay_of"`
	}

	b, err := json.Marshal(wrapper{})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"replay_of":""}` {
		t.Errorf("marshal = %s", b)
	}

	var w wrapper
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatal(err)
	}
	if !w.ReplayOf.IsNil() {
		t.Error("expected Nil after unmarshal of empty string")
	}
}

func TestScan(t *testing.T) {
	ep := NewEndpointID()

	var got ID
	if err := got.Scan(ep.String()); err != nil {
		t.Fatal(err)
	}
	if got.String() != ep.String() {
		t.Errorf("scan = %q, want %q", got, ep)
	}
	if err := got.Scan(nil); err != nil || !got.IsNil() {
		t.Errorf("scan nil: %v, nil=%v", err, got.IsNil())
	}
	if err := got.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}
