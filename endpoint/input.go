package endpoint

// Input registers an endpoint. The signing secret is always generated.
type Input struct {
	TenantID    string            `json:"tenant_id"`
	URL         string            `json:"url"`
	Description string            `json:"description"`
	EventTypes  []string          `json:"event_types"`
	Headers     map[string]string `json:"headers,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
	RateLimit   int               `json:"rate_limit,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Patch updates an endpoint. Nil fields are left alone.
type Patch struct {
	URL         *string           `json:"url,omitempty"`
	Description *string           `json:"description,omitempty"`
	EventTypes  []string          `json:"event_types,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	MaxAttempts *int              `json:"max_attempts,omitempty"`
	RateLimit   *int              `json:"rate_limit,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ListOpts filters endpoint listings.
type ListOpts struct {
	Enabled *bool
	Offset  int
	Limit   int
}
