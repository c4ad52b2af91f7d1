package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// JSON columns are TEXT. Encoding errors cannot occur for these types, so
// the marshal helpers ignore them the same way everywhere.

func encode(v any) string {
	b, _ := json.Marshal(v) //nolint:errcheck // maps and slices of strings
	return string(b)
}

func rawOrNil(s string) json.RawMessage {
	if s == "" || s == "null" {
		return nil
	}
	return json.RawMessage(s)
}

// --- Event type models ---

type eventTypeModel struct {
	grove.BaseModel `grove:"table:herald_event_types"`

	ID           string     `grove:"id,pk"`
	Name         string     `grove:"name,unique"`
	Description  string     `grove:"description"`
	GroupName    string     `grove:"group_name"`
	Version      string     `grove:"version"`
	Schema       string     `grove:"schema"`
	Example      string     `grove:"example"`
	IsDeprecated bool       `grove:"is_deprecated"`
	DeprecatedAt *time.Time `grove:"deprecated_at"`
	Metadata     string     `grove:"metadata"`
	CreatedAt    time.Time  `grove:"created_at"`
	UpdatedAt    time.Time  `grove:"updated_at"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	return &eventTypeModel{
		ID:           et.ID.String(),
		Name:         et.Definition.Name,
		Description:  et.Definition.Description,
		GroupName:    et.Definition.Group,
		Version:      et.Definition.Version,
		Schema:       string(et.Definition.Schema),
		Example:      string(et.Definition.Example),
		IsDeprecated: et.Deprecated,
		DeprecatedAt: et.DeprecatedAt,
		Metadata:     encode(et.Metadata),
		CreatedAt:    et.CreatedAt,
		UpdatedAt:    et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}
	var metadata map[string]string
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %q: %w", m.Name, err)
		}
	}
	return &catalog.EventType{
		Entity: entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:     etID,
		Definition: catalog.Definition{
			Name:        m.Name,
			Description: m.Description,
			Group:       m.GroupName,
			Version:     m.Version,
			Schema:      rawOrNil(m.Schema),
			Example:     rawOrNil(m.Example),
		},
		Deprecated:   m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
		Metadata:     metadata,
	}, nil
}

// --- Endpoint models ---

type endpointModel struct {
	grove.BaseModel `grove:"table:herald_endpoints"`

	ID                      string     `grove:"id,pk"`
	TenantID                string     `grove:"tenant_id"`
	URL                     string     `grove:"url"`
	Description             string     `grove:"description"`
	Secret                  string     `grove:"secret"`
	PreviousSecret          string     `grove:"previous_secret"`
	PreviousSecretExpiresAt *time.Time `grove:"previous_secret_expires_at"`
	EventTypes              string     `grove:"event_types"`
	Headers                 string     `grove:"headers"`
	Enabled                 bool       `grove:"enabled"`
	DisabledReason          string     `grove:"disabled_reason"`
	ConsecutiveFailures     int        `grove:"consecutive_failures"`
	MaxAttempts             int        `grove:"max_attempts"`
	RateLimit               int        `grove:"rate_limit"`
	Metadata                string     `grove:"metadata"`
	CreatedAt               time.Time  `grove:"created_at"`
	UpdatedAt               time.Time  `grove:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	types := ep.EventTypes
	if types == nil {
		types = []string{}
	}
	return &endpointModel{
		ID:                      ep.ID.String(),
		TenantID:                ep.TenantID,
		URL:                     ep.URL,
		Description:             ep.Description,
		Secret:                  ep.Secret,
		PreviousSecret:          ep.PreviousSecret,
		PreviousSecretExpiresAt: ep.PreviousSecretExpiresAt,
		EventTypes:              encode(types),
		Headers:                 encode(ep.Headers),
		Enabled:                 ep.Enabled,
		DisabledReason:          ep.DisabledReason,
		ConsecutiveFailures:     ep.ConsecutiveFailures,
		MaxAttempts:             ep.MaxAttempts,
		RateLimit:               ep.RateLimit,
		Metadata:                encode(ep.Metadata),
		CreatedAt:               ep.CreatedAt,
		UpdatedAt:               ep.UpdatedAt,
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}
	var (
		types    []string
		headers  map[string]string
		metadata map[string]string
	)
	cols := []struct {
		text string
		dst  any
	}{{m.EventTypes, &types}, {m.Headers, &headers}, {m.Metadata, &metadata}}
	for _, c := range cols {
		if c.text == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.text), c.dst); err != nil {
			return nil, fmt.Errorf("decode endpoint %s: %w", m.ID, err)
		}
	}
	return &endpoint.Endpoint{
		Entity:                  entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                      epID,
		TenantID:                m.TenantID,
		URL:                     m.URL,
		Description:             m.Description,
		Secret:                  m.Secret,
		PreviousSecret:          m.PreviousSecret,
		PreviousSecretExpiresAt: m.PreviousSecretExpiresAt,
		EventTypes:              types,
		Headers:                 headers,
		Enabled:                 m.Enabled,
		DisabledReason:          m.DisabledReason,
		ConsecutiveFailures:     m.ConsecutiveFailures,
		MaxAttempts:             m.MaxAttempts,
		RateLimit:               m.RateLimit,
		Metadata:                metadata,
	}, nil
}

// --- Event models ---

type eventModel struct {
	grove.BaseModel `grove:"table:herald_events"`

	ID             string    `grove:"id,pk"`
	Type           string    `grove:"type"`
	TenantID       string    `grove:"tenant_id"`
	Data           []byte    `grove:"data"`
	OccurredAt     time.Time `grove:"occurred_at"`
	IdempotencyKey string    `grove:"idempotency_key"`
	CreatedAt      time.Time `grove:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:             evt.ID.String(),
		Type:           evt.Type,
		TenantID:       evt.TenantID,
		Data:           evt.Data,
		OccurredAt:     evt.OccurredAt,
		IdempotencyKey: evt.IdempotencyKey,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	return &event.Event{
		Entity:         entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             evtID,
		Type:           m.Type,
		TenantID:       m.TenantID,
		Data:           json.RawMessage(m.Data),
		OccurredAt:     m.OccurredAt,
		IdempotencyKey: m.IdempotencyKey,
	}, nil
}

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:herald_deliveries"`

	ID             string     `grove:"id,pk"`
	EventID        string     `grove:"event_id"`
	EndpointID     string     `grove:"endpoint_id"`
	State          string     `grove:"state"`
	Attempts       string     `grove:"attempts"`
	MaxAttempts    int        `grove:"max_attempts"`
	NextAttemptAt  time.Time  `grove:"next_attempt_at"`
	ClaimToken     string     `grove:"claim_token"`
	ClaimedAt      *time.Time `grove:"claimed_at"`
	ReplayOf       string     `grove:"replay_of"`
	LastError      string     `grove:"last_error"`
	LastStatusCode int        `grove:"last_status_code"`
	CompletedAt    *time.Time `grove:"completed_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	attempts := d.Attempts
	if attempts == nil {
		attempts = []delivery.Attempt{}
	}
	return &deliveryModel{
		ID:             d.ID.String(),
		EventID:        d.EventID.String(),
		EndpointID:     d.EndpointID.String(),
		State:          string(d.State),
		Attempts:       encode(attempts),
		MaxAttempts:    d.MaxAttempts,
		NextAttemptAt:  d.NextAttemptAt.UTC(),
		ClaimToken:     d.ClaimToken,
		ClaimedAt:      d.ClaimedAt,
		ReplayOf:       d.ReplayOf.String(),
		LastError:      d.LastError,
		LastStatusCode: d.LastStatusCode,
		CompletedAt:    d.CompletedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	epID, err := id.ParseEndpointID(m.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.EndpointID, err)
	}
	var replayOf id.ID
	if m.ReplayOf != "" {
		if replayOf, err = id.ParseDeliveryID(m.ReplayOf); err != nil {
			return nil, fmt.Errorf("parse replay_of %q: %w", m.ReplayOf, err)
		}
	}
	attempts := []delivery.Attempt{}
	if m.Attempts != "" {
		if err := json.Unmarshal([]byte(m.Attempts), &attempts); err != nil {
			return nil, fmt.Errorf("decode attempts of %s: %w", m.ID, err)
		}
	}
	return &delivery.Delivery{
		Entity:         entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             delID,
		EventID:        evtID,
		EndpointID:     epID,
		State:          delivery.State(m.State),
		Attempts:       attempts,
		MaxAttempts:    m.MaxAttempts,
		NextAttemptAt:  m.NextAttemptAt,
		ClaimToken:     m.ClaimToken,
		ClaimedAt:      m.ClaimedAt,
		ReplayOf:       replayOf,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		CompletedAt:    m.CompletedAt,
	}, nil
}
