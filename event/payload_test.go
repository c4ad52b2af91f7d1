package event

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCanonicalKeepsRawBytes(t *testing.T) {
	in := []byte(`{"b": 1,   "a": "x"}`)
	got, err := Canonical(json.RawMessage(in))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(in) {
		t.Errorf("Canonical = %s, want verbatim %s", got, in)
	}

	in[0] = '['
	if got[0] != '{' {
		t.Error("Canonical must copy, not alias, the caller's bytes")
	}
}

func TestCanonicalMarshalsValues(t *testing.T) {
	got, err := Canonical(map[string]any{"request_id": "tor_9", "days": 3})
	if err != nil {
		t.Fatal(err)
	}
	var back map[string]any
	if err := json.Unmarshal(got, &back); err != nil {
		t.Fatal(err)
	}
	if back["request_id"] != "tor_9" {
		t.Errorf("round trip lost data: %s", got)
	}
}

func TestCanonicalRejects(t *testing.T) {
	for _, v := range []any{nil, "", []byte("{"), json.RawMessage("nope"), make(chan int)} {
		if _, err := Canonical(v); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("Canonical(%T) err = %v, want ErrInvalidPayload", v, err)
		}
	}
}
