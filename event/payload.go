package event

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrInvalidPayload is returned when a payload cannot be turned into JSON.
var ErrInvalidPayload = errors.New("event: invalid payload")

// Canonical returns the byte form a payload is delivered in. Raw JSON
// ([]byte, json.RawMessage or string) is kept verbatim once it is known
// to be valid; any other value is marshaled exactly once.
func Canonical(v any) ([]byte, error) {
	var raw []byte
	switch p := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: empty", ErrInvalidPayload)
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		return b, nil
	}

	if len(raw) == 0 || !json.Valid(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

// New returns an unsaved event of eventType for tenantID carrying payload
// in its canonical byte form.
func New(tenantID, eventType string, payload any) (*Event, error) {
	data, err := Canonical(payload)
	if err != nil {
		return nil, err
	}
	return &Event{Type: eventType, TenantID: tenantID, Data: data}, nil
}
