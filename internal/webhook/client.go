// Package webhook implements the outbound webhook client for greeting
// delivery and receiver health probes.
//
// Delivery success is exactly HTTP 200; every other status, and any network
// failure, is a delivery failure. Each request carries an Idempotency-Key
// header so the receiver can collapse duplicates even when the transport's
// deduplication window has expired.
//
// The HTTP call runs behind a circuit breaker: a receiver that fails
// repeatedly trips the breaker and subsequent sends fail fast without
// holding claims open for the full request timeout.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"greeter/internal/config"
)

// breakerConsecutiveFailures is the consecutive-failure count that opens the
// circuit.
const breakerConsecutiveFailures = 5

// breakerOpenTimeout is how long the circuit stays open before a probe
// request is allowed through.
const breakerOpenTimeout = 30 * time.Second

// maxResponseBodyRead limits how much of a response body is read for error
// reporting.
const maxResponseBodyRead = 1024

// ErrCircuitOpen is returned when the circuit breaker rejects a send without
// issuing a request.
var ErrCircuitOpen = errors.New("webhook: circuit open")

// DeliveryError reports a response with a non-200 status.
type DeliveryError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook: delivery failed with status %d", e.StatusCode)
}

// greetingPayload is the outbound webhook body.
type greetingPayload struct {
	Message string `json:"message"`
	Test    bool   `json:"test,omitempty"`
}

// Client delivers greeting payloads to the configured webhook endpoint.
type Client struct {
	httpClient *http.Client
	url        string
	userAgent  string
	breaker    *gobreaker.CircuitBreaker[int]
	logger     *slog.Logger
}

// New creates a Client from the webhook configuration.
func New(cfg config.WebhookConfig, logger *slog.Logger) *Client {
	return NewWithHTTPClient(cfg, &http.Client{Timeout: cfg.Timeout}, logger)
}

// NewWithHTTPClient creates a Client with a caller-supplied HTTP client.
// This constructor exists for testing against httptest servers.
func NewWithHTTPClient(cfg config.WebhookConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:    "webhook",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
	})

	return &Client{
		httpClient: httpClient,
		url:        cfg.HookbinURL,
		userAgent:  cfg.UserAgent,
		breaker:    breaker,
		logger:     logger,
	}
}

// SendGreeting POSTs the greeting message with the given idempotency key.
// It returns the HTTP status code on any completed request. A non-200 status
// is returned together with a *DeliveryError so the breaker counts it as a
// failure; a network failure or open circuit returns a zero status.
func (c *Client) SendGreeting(ctx context.Context, message, idempotencyKey string) (int, error) {
	status, err := c.breaker.Execute(func() (int, error) {
		return c.post(ctx, greetingPayload{Message: message}, map[string]string{
			"Idempotency-Key": idempotencyKey,
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.WarnContext(ctx, "webhook circuit open, send rejected",
				"idempotency_key", idempotencyKey,
			)
			return 0, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}
		return status, err
	}

	c.logger.InfoContext(ctx, "webhook delivered",
		"status", status,
		"idempotency_key", idempotencyKey,
	)
	return status, nil
}

// ProbeHealth issues a sentinel test POST to check whether the receiver has
// recovered. Success is exactly HTTP 200. The probe bypasses the breaker:
// its purpose is to discover recovery, which the breaker would mask.
func (c *Client) ProbeHealth(ctx context.Context) error {
	if _, err := c.post(ctx, greetingPayload{
		Message: "health check probe",
		Test:    true,
	}, map[string]string{
		"X-Health-Check": "true",
	}); err != nil {
		return fmt.Errorf("webhook: health probe: %w", err)
	}
	return nil
}

// post executes a JSON POST and enforces the 200-only success policy.
func (c *Client) post(ctx context.Context, payload greetingPayload, headers map[string]string) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))
		return resp.StatusCode, &DeliveryError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	return resp.StatusCode, nil
}
