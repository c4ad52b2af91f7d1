package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/signature"
)

// Headers set on every delivery request.
const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderTimestamp  = "X-Webhook-Timestamp"
	HeaderEventID    = "X-Webhook-Event-Id"
	HeaderEventType  = "X-Webhook-Event-Type"
	HeaderDeliveryID = "X-Webhook-Delivery-Id"
	HeaderAttempt    = "X-Webhook-Attempt"

	userAgent = "Herald-Webhooks/1.0"

	// DefaultExcerptLimit caps the stored response body excerpt.
	DefaultExcerptLimit = 1024
)

// Result is what happened to one HTTP request.
type Result struct {
	StatusCode int
	Err        error
	Timeout    bool
	Response   string
	Duration   time.Duration
}

// Outcome maps r to the recorded attempt outcome.
func (r Result) Outcome() Outcome {
	switch {
	case r.Timeout:
		return OutcomeTimeout
	case r.Err != nil:
		return OutcomeTransportError
	}
	switch Classify(r) {
	case ClassSuccess:
		return OutcomeSuccess
	case ClassPermanent:
		return OutcomeRejected
	default:
		return OutcomeHTTPError
	}
}

// Attempt turns r into the attempt record numbered n, made at at.
func (r Result) Attempt(n int, at time.Time) Attempt {
	a := Attempt{
		Number:          n,
		AttemptedAt:     at.UTC(),
		Outcome:         r.Outcome(),
		StatusCode:      r.StatusCode,
		ResponseExcerpt: r.Response,
		DurationMs:      r.Duration.Milliseconds(),
	}
	switch {
	case r.Err != nil:
		a.Error = r.Err.Error()
	case a.Outcome != OutcomeSuccess:
		a.Error = "receiver responded " + strconv.Itoa(r.StatusCode)
	}
	return a
}

// Sender performs signed webhook requests.
type Sender struct {
	client       *http.Client
	timeout      time.Duration
	excerptLimit int
	now          func() time.Time
}

// NewSender returns a Sender. A nil client gets a default client that does
// not follow redirects; timeout bounds each request.
func NewSender(client *http.Client, timeout time.Duration, excerptLimit int) *Sender {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if excerptLimit <= 0 {
		excerptLimit = DefaultExcerptLimit
	}
	return &Sender{client: client, timeout: timeout, excerptLimit: excerptLimit, now: time.Now}
}

// Send POSTs evt.Data to ep as attempt number n of d. The returned error is
// non-nil only when no request could be built (for instance a missing
// secret); receiver and network failures are reported in the Result.
func (s *Sender) Send(ctx context.Context, ep *endpoint.Endpoint, evt *event.Event, d *Delivery, n int) (Result, error) {
	now := s.now()
	ts := now.Unix()
	sig, err := signature.Header(ep.SigningSecrets(now), ts, evt.Data)
	if err != nil {
		return Result{}, fmt.Errorf("sign delivery %s: %w", d.ID, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(evt.Data))
	if err != nil {
		return Result{}, fmt.Errorf("build request for delivery %s: %w", d.ID, err)
	}

	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderEventID, evt.ID.String())
	req.Header.Set(HeaderEventType, evt.Type)
	req.Header.Set(HeaderDeliveryID, d.ID.String())
	req.Header.Set(HeaderAttempt, strconv.Itoa(n))

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // receiver URLs are tenant configured
	if err != nil {
		return Result{Err: err, Timeout: isTimeout(err), Duration: time.Since(start)}, nil
	}
	defer resp.Body.Close()

	// The excerpt is best effort; the status code alone decides the outcome.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, int64(s.excerptLimit)))
	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(body),
		Duration:   time.Since(start),
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
