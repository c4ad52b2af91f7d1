package mongo

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

// --- Event type models ---

type eventTypeModel struct {
	grove.BaseModel `grove:"table:herald_event_types"`

	ID           string            `grove:"id,pk"         bson:"_id"`
	Name         string            `grove:"name,unique"   bson:"name"`
	Description  string            `grove:"description"   bson:"description"`
	GroupName    string            `grove:"group_name"    bson:"group_name"`
	Version      string            `grove:"version"       bson:"version"`
	Schema       []byte            `grove:"schema"        bson:"schema,omitempty"`
	Example      []byte            `grove:"example"       bson:"example,omitempty"`
	IsDeprecated bool              `grove:"is_deprecated" bson:"is_deprecated"`
	DeprecatedAt *time.Time        `grove:"deprecated_at" bson:"deprecated_at,omitempty"`
	Metadata     map[string]string `grove:"metadata"      bson:"metadata,omitempty"`
	CreatedAt    time.Time         `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time         `grove:"updated_at"    bson:"updated_at"`
}

func toEventTypeModel(et *catalog.EventType) *eventTypeModel {
	return &eventTypeModel{
		ID:           et.ID.String(),
		Name:         et.Definition.Name,
		Description:  et.Definition.Description,
		GroupName:    et.Definition.Group,
		Version:      et.Definition.Version,
		Schema:       et.Definition.Schema,
		Example:      et.Definition.Example,
		IsDeprecated: et.Deprecated,
		DeprecatedAt: et.DeprecatedAt,
		Metadata:     et.Metadata,
		CreatedAt:    et.CreatedAt,
		UpdatedAt:    et.UpdatedAt,
	}
}

func fromEventTypeModel(m *eventTypeModel) (*catalog.EventType, error) {
	etID, err := id.ParseEventTypeID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event type ID %q: %w", m.ID, err)
	}
	return &catalog.EventType{
		Entity: entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:     etID,
		Definition: catalog.Definition{
			Name:        m.Name,
			Description: m.Description,
			Group:       m.GroupName,
			Version:     m.Version,
			Schema:      json.RawMessage(m.Schema),
			Example:     json.RawMessage(m.Example),
		},
		Deprecated:   m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
		Metadata:     m.Metadata,
	}, nil
}

// --- Endpoint models ---

type endpointModel struct {
	grove.BaseModel `grove:"table:herald_endpoints"`

	ID                      string            `grove:"id,pk"                      bson:"_id"`
	TenantID                string            `grove:"tenant_id"                  bson:"tenant_id"`
	URL                     string            `grove:"url"                        bson:"url"`
	Description             string            `grove:"description"                bson:"description"`
	Secret                  string            `grove:"secret"                     bson:"secret"`
	PreviousSecret          string            `grove:"previous_secret"            bson:"previous_secret,omitempty"`
	PreviousSecretExpiresAt *time.Time        `grove:"previous_secret_expires_at" bson:"previous_secret_expires_at,omitempty"`
	EventTypes              []string          `grove:"event_types"                bson:"event_types"`
	Headers                 map[string]string `grove:"headers"                    bson:"headers,omitempty"`
	Enabled                 bool              `grove:"enabled"                    bson:"enabled"`
	DisabledReason          string            `grove:"disabled_reason"            bson:"disabled_reason"`
	ConsecutiveFailures     int               `grove:"consecutive_failures"       bson:"consecutive_failures"`
	MaxAttempts             int               `grove:"max_attempts"               bson:"max_attempts"`
	RateLimit               int               `grove:"rate_limit"                 bson:"rate_limit"`
	Metadata                map[string]string `grove:"metadata"                   bson:"metadata,omitempty"`
	CreatedAt               time.Time         `grove:"created_at"                 bson:"created_at"`
	UpdatedAt               time.Time         `grove:"updated_at"                 bson:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	return &endpointModel{
		ID:                      ep.ID.String(),
		TenantID:                ep.TenantID,
		URL:                     ep.URL,
		Description:             ep.Description,
		Secret:                  ep.Secret,
		PreviousSecret:          ep.PreviousSecret,
		PreviousSecretExpiresAt: ep.PreviousSecretExpiresAt,
		EventTypes:              ep.EventTypes,
		Headers:                 ep.Headers,
		Enabled:                 ep.Enabled,
		DisabledReason:          ep.DisabledReason,
		ConsecutiveFailures:     ep.ConsecutiveFailures,
		MaxAttempts:             ep.MaxAttempts,
		RateLimit:               ep.RateLimit,
		Metadata:                ep.Metadata,
		CreatedAt:               ep.CreatedAt,
		UpdatedAt:               ep.UpdatedAt,
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
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
		EventTypes:              m.EventTypes,
		Headers:                 m.Headers,
		Enabled:                 m.Enabled,
		DisabledReason:          m.DisabledReason,
		ConsecutiveFailures:     m.ConsecutiveFailures,
		MaxAttempts:             m.MaxAttempts,
		RateLimit:               m.RateLimit,
		Metadata:                m.Metadata,
	}, nil
}

// --- Event models ---

// Data is stored as BSON binary so the signed bytes survive unchanged.
type eventModel struct {
	grove.BaseModel `grove:"table:herald_events"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	Type           string    `grove:"type"            bson:"type"`
	TenantID       string    `grove:"tenant_id"       bson:"tenant_id"`
	Data           []byte    `grove:"data"            bson:"data"`
	OccurredAt     time.Time `grove:"occurred_at"     bson:"occurred_at"`
	IdempotencyKey string    `grove:"idempotency_key" bson:"idempotency_key"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"      bson:"updated_at"`
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

type attemptModel struct {
	Number          int       `bson:"number"`
	AttemptedAt     time.Time `bson:"attempted_at"`
	Outcome         string    `bson:"outcome"`
	StatusCode      int       `bson:"status_code,omitempty"`
	Error           string    `bson:"error,omitempty"`
	ResponseExcerpt string    `bson:"response_excerpt,omitempty"`
	DurationMs      int64     `bson:"duration_ms"`
}

type deliveryModel struct {
	grove.BaseModel `grove:"table:herald_deliveries"`

	ID             string         `grove:"id,pk"            bson:"_id"`
	EventID        string         `grove:"event_id"         bson:"event_id"`
	EndpointID     string         `grove:"endpoint_id"      bson:"endpoint_id"`
	State          string         `grove:"state"            bson:"state"`
	Attempts       []attemptModel `grove:"attempts"         bson:"attempts"`
	MaxAttempts    int            `grove:"max_attempts"     bson:"max_attempts"`
	NextAttemptAt  time.Time      `grove:"next_attempt_at"  bson:"next_attempt_at"`
	ClaimToken     string         `grove:"claim_token"      bson:"claim_token"`
	ClaimedAt      *time.Time     `grove:"claimed_at"       bson:"claimed_at,omitempty"`
	ReplayOf       string         `grove:"replay_of"        bson:"replay_of,omitempty"`
	LastError      string         `grove:"last_error"       bson:"last_error"`
	LastStatusCode int            `grove:"last_status_code" bson:"last_status_code"`
	CompletedAt    *time.Time     `grove:"completed_at"     bson:"completed_at,omitempty"`
	CreatedAt      time.Time      `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time      `grove:"updated_at"       bson:"updated_at"`
}

func toAttemptModels(as []delivery.Attempt) []attemptModel {
	out := make([]attemptModel, len(as))
	for i, a := range as {
		out[i] = attemptModel{
			Number:          a.Number,
			AttemptedAt:     a.AttemptedAt,
			Outcome:         string(a.Outcome),
			StatusCode:      a.StatusCode,
			Error:           a.Error,
			ResponseExcerpt: a.ResponseExcerpt,
			DurationMs:      a.DurationMs,
		}
	}
	return out
}

func fromAttemptModels(ms []attemptModel) []delivery.Attempt {
	out := make([]delivery.Attempt, len(ms))
	for i, m := range ms {
		out[i] = delivery.Attempt{
			Number:          m.Number,
			AttemptedAt:     m.AttemptedAt,
			Outcome:         delivery.Outcome(m.Outcome),
			StatusCode:      m.StatusCode,
			Error:           m.Error,
			ResponseExcerpt: m.ResponseExcerpt,
			DurationMs:      m.DurationMs,
		}
	}
	return out
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:             d.ID.String(),
		EventID:        d.EventID.String(),
		EndpointID:     d.EndpointID.String(),
		State:          string(d.State),
		Attempts:       toAttemptModels(d.Attempts),
		MaxAttempts:    d.MaxAttempts,
		NextAttemptAt:  d.NextAttemptAt,
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
	return &delivery.Delivery{
		Entity:         entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             delID,
		EventID:        evtID,
		EndpointID:     epID,
		State:          delivery.State(m.State),
		Attempts:       fromAttemptModels(m.Attempts),
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
