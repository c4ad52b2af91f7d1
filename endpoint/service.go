package endpoint

import (
	"context"
	"log/slog"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/signature"
)

// MaxAttemptsLimit bounds per-endpoint attempt overrides.
const MaxAttemptsLimit = 50

// Service validates and applies endpoint changes.
type Service struct {
	store  Store
	grace  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService returns a Service. grace is how long a rotated-out secret
// keeps co-signing deliveries.
func NewService(store Store, grace time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, grace: grace, logger: logger, now: time.Now}
}

// Create registers an endpoint with a freshly generated secret. Only the
// URL's shape is checked; reachability is not.
func (svc *Service) Create(ctx context.Context, in Input) (*Endpoint, error) {
	if in.TenantID == "" {
		return nil, &ValidationError{Field: "tenant_id", Message: "required"}
	}
	if err := validateURL(in.URL); err != nil {
		return nil, err
	}
	if err := validateEventTypes(in.EventTypes); err != nil {
		return nil, err
	}
	if err := validateHeaders(in.Headers); err != nil {
		return nil, err
	}
	if err := validateLimits(in.MaxAttempts, in.RateLimit); err != nil {
		return nil, err
	}

	ep := &Endpoint{
		Entity:      entity.New(),
		ID:          id.NewEndpointID(),
		TenantID:    in.TenantID,
		URL:         in.URL,
		Description: in.Description,
		Secret:      signature.GenerateSecret(),
		EventTypes:  in.EventTypes,
		Headers:     in.Headers,
		Enabled:     true,
		MaxAttempts: in.MaxAttempts,
		RateLimit:   in.RateLimit,
		Metadata:    in.Metadata,
	}
	if err := svc.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "endpoint registered",
		slog.String("endpoint_id", ep.ID.String()),
		slog.String("tenant_id", ep.TenantID),
	)
	return ep, nil
}

// Get returns an endpoint.
func (svc *Service) Get(ctx context.Context, epID id.ID) (*Endpoint, error) {
	return svc.store.GetEndpoint(ctx, epID)
}

// List returns a tenant's endpoints.
func (svc *Service) List(ctx context.Context, tenantID string, opts ListOpts) ([]*Endpoint, error) {
	return svc.store.ListEndpoints(ctx, tenantID, opts)
}

// Update applies p to the endpoint.
func (svc *Service) Update(ctx context.Context, epID id.ID, p Patch) (*Endpoint, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return nil, err
	}

	if p.URL != nil {
		if err := validateURL(*p.URL); err != nil {
			return nil, err
		}
		ep.URL = *p.URL
	}
	if p.Description != nil {
		ep.Description = *p.Description
	}
	if p.EventTypes != nil {
		if err := validateEventTypes(p.EventTypes); err != nil {
			return nil, err
		}
		ep.EventTypes = p.EventTypes
	}
	if p.Headers != nil {
		if err := validateHeaders(p.Headers); err != nil {
			return nil, err
		}
		ep.Headers = p.Headers
	}
	if p.MaxAttempts != nil {
		ep.MaxAttempts = *p.MaxAttempts
	}
	if p.RateLimit != nil {
		ep.RateLimit = *p.RateLimit
	}
	if err := validateLimits(ep.MaxAttempts, ep.RateLimit); err != nil {
		return nil, err
	}
	if p.Metadata != nil {
		ep.Metadata = p.Metadata
	}

	ep.UpdatedAt = svc.now().UTC()
	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// Disable stops dispatch to the endpoint. Disabling a disabled endpoint is
// a no-op.
func (svc *Service) Disable(ctx context.Context, epID id.ID, reason string) error {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return err
	}
	if !ep.Enabled {
		return nil
	}
	if err := svc.store.SetEnabled(ctx, epID, false, reason); err != nil {
		return err
	}
	svc.logger.InfoContext(ctx, "endpoint disabled",
		slog.String("endpoint_id", epID.String()),
		slog.String("reason", reason),
	)
	return nil
}

// Enable resumes dispatch and clears the failure counter.
func (svc *Service) Enable(ctx context.Context, epID id.ID) error {
	if _, err := svc.store.GetEndpoint(ctx, epID); err != nil {
		return err
	}
	return svc.store.SetEnabled(ctx, epID, true, "")
}

// RotateSecret issues a new secret. The old one keeps co-signing for the
// configured grace period.
func (svc *Service) RotateSecret(ctx context.Context, epID id.ID) (string, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return "", err
	}

	now := svc.now().UTC()
	ep.PreviousSecret = ""
	ep.PreviousSecretExpiresAt = nil
	if svc.grace > 0 {
		expires := now.Add(svc.grace)
		ep.PreviousSecret = ep.Secret
		ep.PreviousSecretExpiresAt = &expires
	}
	ep.Secret = signature.GenerateSecret()
	ep.UpdatedAt = now

	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return "", err
	}
	svc.logger.InfoContext(ctx, "endpoint secret rotated", slog.String("endpoint_id", epID.String()))
	return ep.Secret, nil
}

// ValidationError reports a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "endpoint: invalid " + e.Field + ": " + e.Message
}

func validateURL(raw string) error {
	if raw == "" {
		return &ValidationError{Field: "url", Message: "required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: "url", Message: "malformed"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "url", Message: "host required"}
	}
	return nil
}

func validateEventTypes(patterns []string) error {
	if len(patterns) == 0 {
		return &ValidationError{Field: "event_types", Message: "at least one subscription required"}
	}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return &ValidationError{Field: "event_types", Message: "empty pattern"}
		}
	}
	return nil
}

func validateHeaders(h map[string]string) error {
	for k := range h {
		ck := textproto.CanonicalMIMEHeaderKey(k)
		if strings.HasPrefix(ck, "X-Webhook-") || ck == "Content-Type" || ck == "Content-Length" || ck == "Host" {
			return &ValidationError{Field: "headers", Message: k + " is reserved"}
		}
	}
	return nil
}

func validateLimits(maxAttempts, rateLimit int) error {
	if maxAttempts < 0 || maxAttempts > MaxAttemptsLimit {
		return &ValidationError{Field: "max_attempts", Message: "must be between 0 and 50"}
	}
	if rateLimit < 0 {
		return &ValidationError{Field: "rate_limit", Message: "must not be negative"}
	}
	return nil
}
