package catalog

import "context"

// Store persists event types.
type Store interface {
	// RegisterType inserts et, or replaces the definition of an existing
	// type with the same name while keeping its ID.
	RegisterType(ctx context.Context, et *EventType) error

	// GetType returns the type with the given name, deprecated or not.
	GetType(ctx context.Context, name string) (*EventType, error)

	ListTypes(ctx context.Context, opts ListOpts) ([]*EventType, error)

	// DeleteType marks the type deprecated. The row is kept.
	DeleteType(ctx context.Context, name string) error
}
