package delivery

import "time"

// Outcome classifies one attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomeRejected is a 4xx other than 429; it is never retried.
	OutcomeRejected       Outcome = "rejected"
	OutcomeHTTPError      Outcome = "http_error"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeTransportError Outcome = "transport_error"
)

// Attempt is the immutable record of one HTTP request.
type Attempt struct {
	Number          int       `json:"number"`
	AttemptedAt     time.Time `json:"attempted_at"`
	Outcome         Outcome   `json:"outcome"`
	StatusCode      int       `json:"status_code,omitempty"`
	Error           string    `json:"error,omitempty"`
	ResponseExcerpt string    `json:"response_excerpt,omitempty"`
	DurationMs      int64     `json:"duration_ms"`
}
