// Package endpoint manages the receiver URLs that subscribe to webhook
// event types.
package endpoint

import (
	"errors"
	"time"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// ErrNotFound is returned when no endpoint has the requested ID.
var ErrNotFound = errors.New("endpoint: not found")

// Endpoint is a receiver registered by a tenant.
type Endpoint struct {
	entity.Entity

	ID          id.ID  `json:"id"`
	TenantID    string `json:"tenant_id"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`

	// Secret signs every delivery. It is shown once, at creation or
	// rotation, and never serialized afterwards.
	Secret string `json:"-"`

	// PreviousSecret keeps co-signing deliveries until
	// PreviousSecretExpiresAt so receivers can roll their configuration.
	PreviousSecret          string     `json:"-"`
	PreviousSecretExpiresAt *time.Time `json:"-"`

	// EventTypes holds subscription patterns, see catalog.Match.
	EventTypes []string          `json:"event_types"`
	Headers    map[string]string `json:"headers,omitempty"`

	Enabled             bool   `json:"enabled"`
	DisabledReason      string `json:"disabled_reason,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`

	// MaxAttempts overrides the system default when positive.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// RateLimit caps deliveries per second. Zero means unlimited.
	RateLimit int               `json:"rate_limit,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscribes reports whether the endpoint wants events of the given type.
func (ep *Endpoint) Subscribes(eventType string) bool {
	return catalog.MatchAny(ep.EventTypes, eventType)
}

// SigningSecrets returns the secrets that sign a delivery made at now:
// the current one, then the previous one while its grace window lasts.
func (ep *Endpoint) SigningSecrets(now time.Time) []string {
	secrets := []string{ep.Secret}
	if ep.PreviousSecret != "" && ep.PreviousSecretExpiresAt != nil && now.Before(*ep.PreviousSecretExpiresAt) {
		secrets = append(secrets, ep.PreviousSecret)
	}
	return secrets
}

// AttemptLimit returns the endpoint's MaxAttempts, or def when unset.
func (ep *Endpoint) AttemptLimit(def int) int {
	if ep.MaxAttempts > 0 {
		return ep.MaxAttempts
	}
	return def
}
