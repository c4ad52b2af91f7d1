// Package id provides the prefixed, sortable identifiers used by herald.
//
// Identifiers are TypeIDs ("prefix_suffix", UUIDv7 based) so a delivery ID
// can never be confused with an endpoint ID in logs or API calls.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the kind of object an ID refers to.
type Prefix string

const (
	PrefixEventType Prefix = "evtype"
	PrefixEndpoint  Prefix = "ep"
	PrefixEvent     Prefix = "evt"
	PrefixDelivery  Prefix = "del"
)

// ID is a prefix-qualified identifier. The zero value is Nil.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid   typeid.TypeID
	valid bool
}

// Nil is the zero ID.
var Nil ID

// New generates an ID with the given prefix. An invalid prefix is a
// programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, valid: true}
}

func NewEventTypeID() ID { return New(PrefixEventType) }
func NewEndpointID() ID  { return New(PrefixEndpoint) }
func NewEventID() ID     { return New(PrefixEvent) }
func NewDeliveryID() ID  { return New(PrefixDelivery) }

// Parse parses any TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that it carries the expected prefix.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if v.Prefix() != want {
		return Nil, fmt.Errorf("id: %q: expected prefix %q, got %q", s, want, v.Prefix())
	}
	return v, nil
}

// MustParse is Parse for hardcoded values.
func MustParse(s string) ID {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func ParseEventTypeID(s string) (ID, error) { return ParseWithPrefix(s, PrefixEventType) }
func ParseEndpointID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixEndpoint) }
func ParseEventID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixEvent) }
func ParseDeliveryID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixDelivery) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	v, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
