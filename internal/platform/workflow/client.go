// Package workflow delivers signed job events to the external automation
// workflow that extracts biomarkers and drafts diagnoses, and verifies the
// signed callbacks it sends back.
package workflow

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healz/reports/internal/platform/backoff"
)

const (
	SignatureHeader = "X-Healz-Signature"
	TimestampHeader = "X-Healz-Timestamp"
	EventIDHeader   = "X-Healz-Event"
)

const (
	EventFormCompleted     = "form.completed"
	EventAnalyticsUploaded = "analytics.uploaded"
	EventJobRetried        = "processing.retried"
)

// ErrNotConfigured is returned by Trigger when no webhook URL is set.
var ErrNotConfigured = errors.New("workflow webhook not configured")

// Event is the payload POSTed to the workflow webhook.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	JobID       string    `json:"job_id"`
	PatientID   string    `json:"patient_id"`
	FormID      string    `json:"form_id,omitempty"`
	AnalyticsID string    `json:"analytics_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Delivery summarises one Trigger call.
type Delivery struct {
	EventID    string        `json:"event_id"`
	StatusCode int           `json:"status_code"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

// SignPayload computes the hex-encoded HMAC-SHA256 of payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header value, with or without the
// "sha256=" prefix, against payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the total attempt bound and the linear backoff step.
func WithRetry(attempts int, step time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = attempts
		c.step = step
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client posts signed events to a single webhook URL.
type Client struct {
	url         string
	secret      string
	httpClient  *http.Client
	maxAttempts int
	step        time.Duration
	logger      zerolog.Logger
}

func NewClient(url, secret string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		step:        time.Second,
		logger:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Configured reports whether the client has somewhere to deliver to.
func (c *Client) Configured() bool {
	return c.url != ""
}

// Trigger signs ev and POSTs it, retrying transport errors, 429 and 5xx
// responses. Other non-2xx responses fail immediately.
func (c *Client) Trigger(ctx context.Context, ev Event) (*Delivery, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow event: %w", err)
	}
	sig := SignPayload(payload, c.secret)

	d := &Delivery{EventID: ev.ID}
	start := time.Now()

	err = backoff.Do(ctx, c.step, c.maxAttempts, func(ctx context.Context, attempt int) error {
		d.Attempts = attempt
		status, err := c.post(ctx, ev, payload, sig)
		d.StatusCode = status
		if err != nil {
			c.logger.Warn().Err(err).
				Str("event_id", ev.ID).
				Str("event_type", ev.Type).
				Int("attempt", attempt).
				Msg("workflow delivery attempt failed")
			if status == 0 || status == http.StatusTooManyRequests || status >= 500 {
				return backoff.Retryable(err)
			}
			return err
		}
		return nil
	})
	d.Duration = time.Since(start)

	if err != nil {
		d.Error = err.Error()
		return d, fmt.Errorf("deliver %s event %s: %w", ev.Type, ev.ID, err)
	}
	return d, nil
}

func (c *Client) post(ctx context.Context, ev Event, payload []byte, sig string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+sig)
	req.Header.Set(EventIDHeader, ev.ID)
	req.Header.Set(TimestampHeader, ev.Timestamp.UTC().Format(time.RFC3339))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, fmt.Errorf("non-2xx response: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
