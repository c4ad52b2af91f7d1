package catalog

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

var (
	// ErrNotFound is returned when no event type has the requested name.
	ErrNotFound = errors.New("catalog: event type not found")

	// ErrDeprecated is returned when submitting or re-registering a
	// deprecated event type. Deprecated names are never reused.
	ErrDeprecated = errors.New("catalog: event type deprecated")

	// ErrInvalidDefinition is returned by Register for a bad name or a
	// schema that does not compile.
	ErrInvalidDefinition = errors.New("catalog: invalid event type definition")

	// ErrSchemaMismatch is returned when a payload fails its type's schema.
	ErrSchemaMismatch = errors.New("catalog: payload does not match schema")
)

// Definition describes one kind of notifiable event, such as
// "request.approved" or "balance.adjusted".
type Definition struct {
	// Name is "<resource>.<action>", lowercase, dot separated.
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Group       string `json:"group,omitempty"`

	// Version is the payload contract version, e.g. "2025-01-01".
	Version string `json:"version,omitempty"`

	// Schema is an optional JSON Schema the payload must satisfy.
	Schema  json.RawMessage `json:"schema,omitempty"`
	Example json.RawMessage `json:"example,omitempty"`
}

// EventType is a registered Definition.
type EventType struct {
	entity.Entity

	ID           id.ID             `json:"id"`
	Definition   Definition        `json:"definition"`
	Deprecated   bool              `json:"deprecated"`
	DeprecatedAt *time.Time        `json:"deprecated_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Name is shorthand for et.Definition.Name.
func (et *EventType) Name() string { return et.Definition.Name }

// ListOpts filters List.
type ListOpts struct {
	Group             string
	IncludeDeprecated bool
	Offset            int
	Limit             int
}
