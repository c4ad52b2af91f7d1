package endpoint

import (
	"context"

	"github.com/xraph/herald/id"
)

// Store persists endpoints. Endpoints are never deleted; disabling keeps
// their delivery history addressable.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, epID id.ID) (*Endpoint, error)

	// UpdateEndpoint writes configuration and secrets. Enabled,
	// DisabledReason and ConsecutiveFailures are left as stored; they
	// change only through SetEnabled and the failure counter.
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error

	// ListEndpoints lists a tenant's endpoints, or every endpoint when
	// tenantID is empty.
	ListEndpoints(ctx context.Context, tenantID string, opts ListOpts) ([]*Endpoint, error)

	// Resolve returns the tenant's enabled endpoints subscribed to eventType.
	Resolve(ctx context.Context, tenantID, eventType string) ([]*Endpoint, error)

	// SetEnabled flips the enabled flag. Enabling clears the disabled
	// reason and the consecutive failure counter.
	SetEnabled(ctx context.Context, epID id.ID, enabled bool, reason string) error

	// IncrementFailures atomically bumps the consecutive failure counter
	// and returns the new value.
	IncrementFailures(ctx context.Context, epID id.ID) (int, error)
	ResetFailures(ctx context.Context, epID id.ID) error
}
