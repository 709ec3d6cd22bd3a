// Package webhook delivers crisis alerts to an external HTTP endpoint as
// timestamped, HMAC-signed JSON.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/crisis/internal/platform/hipaa"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEventID   = "X-Webhook-ID"
	HeaderEventType = "X-Webhook-Event"
)

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(rawURL string) error {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return fmt.Errorf("webhook url %q: %w", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("webhook url %q: scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url %q: missing host", rawURL)
	}
	return nil
}

// Option configures a Sink.
type Option func(*Sink)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.httpClient = c }
}

// WithMaxRetries sets the maximum number of retry attempts after the first.
func WithMaxRetries(n int) Option {
	return func(s *Sink) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryDelays sets the wait before each retry. The last delay is reused
// when there are more retries than delays.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(s *Sink) { s.retryDelays = delays }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// Sink POSTs each crisis alert as signed JSON. It implements hipaa.AlertSink.
type Sink struct {
	url         string
	secret      string
	httpClient  *http.Client
	maxRetries  int
	retryDelays []time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSink validates rawURL and returns a Sink. The dispatcher deadline
// bounds the whole delivery, retries included, so the defaults are short.
func NewSink(rawURL, secret string, opts ...Option) (*Sink, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	s := &Sink{
		url:         rawURL,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		maxRetries:  2,
		retryDelays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond},
		logger:      zerolog.Nop(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Sink) Name() string { return "webhook" }

// statusError is a non-2xx response. 4xx responses are not retried.
type statusError struct {
	code       int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("non-2xx response: %d", e.code)
	}
	return fmt.Sprintf("non-2xx response: %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

// Emit delivers event, retrying transport errors, 5xx and 429 responses
// until the retries are spent or ctx is done. Each attempt is signed afresh.
func (s *Sink) Emit(ctx context.Context, event *hipaa.CrisisAlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, s.delay(attempt, lastErr)); err != nil {
				return fmt.Errorf("webhook: gave up after %d attempts: %w", attempt, lastErr)
			}
		}

		if lastErr = s.post(ctx, event, payload); lastErr == nil {
			return nil
		}
		var se *statusError
		if errors.As(lastErr, &se) && !se.retryable() {
			break
		}
		s.logger.Debug().Err(lastErr).
			Int("attempt", attempt+1).
			Str("event_id", event.ID.String()).
			Msg("webhook delivery attempt failed")
	}
	return fmt.Errorf("webhook: %w", lastErr)
}

func (s *Sink) post(ctx context.Context, event *hipaa.CrisisAlertEvent, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(s.secret, s.now(), payload))
	req.Header.Set(HeaderEventID, event.ID.String())
	req.Header.Set(HeaderEventType, event.EventType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode/100 == 2 {
		return nil
	}
	return &statusError{
		code:       resp.StatusCode,
		body:       strings.TrimSpace(string(body)),
		retryAfter: retryAfter(resp.Header.Get("Retry-After")),
	}
}

// retryAfter reads the delay-seconds form of Retry-After. HTTP dates are
// ignored.
func retryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// delay is the configured backoff for attempt, stretched to the receiver's
// Retry-After when that is longer. ctx still bounds the wait.
func (s *Sink) delay(attempt int, lastErr error) time.Duration {
	var d time.Duration
	if n := len(s.retryDelays); n > 0 {
		d = s.retryDelays[min(attempt-1, n-1)]
	}
	var se *statusError
	if errors.As(lastErr, &se) && se.retryAfter > d {
		d = se.retryAfter
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
