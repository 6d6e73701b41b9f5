package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"pushpipe/internal/config"
	"pushpipe/internal/types"
)

// ErrSubscriptionExpired signals that the gateway reported the recipient's
// push endpoint dead (HTTP 404/410). The fan-out engine reacts by nulling the
// recipient's stored subscription. Expired classifications are terminal and
// never retried.
var ErrSubscriptionExpired = errors.New("push: subscription expired")

// maxResponseBodyRead limits how much of an error response body is read for
// diagnostics.
const maxResponseBodyRead = 2048

// retryAfterCap bounds how long a gateway Retry-After hint can delay the
// next attempt.
const retryAfterCap = 5 * time.Second

// transientStatusError marks a retryable gateway response (429/5xx) and
// carries the server's Retry-After hint when one was sent.
type transientStatusError struct {
	status     int
	snippet    string
	retryAfter time.Duration
}

func (e *transientStatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.status, e.snippet)
}

// sendRequest is the gateway wire envelope. The subscription is forwarded as
// the opaque address string the recipient store holds.
type sendRequest struct {
	Subscription string          `json:"subscription"`
	Payload      DeliveryPayload `json:"payload"`
	Options      DeliveryOptions `json:"options"`
}

// Client is the Push Gateway client. All sends are routed through a circuit
// breaker and a bounded jittered retry loop (429/5xx only), mirroring the
// resilience contract of the platform's other outbound HTTP clients.
//
// Client is constructed once at startup and injected into the pipeline; it is
// never reached through package-level state.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	cfg        config.GatewayConfig
	logger     types.Logger
	sleepFn    func(time.Duration)
}

// ClientOption is a functional option for configuring a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client, used by tests to point
// at an httptest server.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleepFunc overrides the sleep between retries, used by tests to avoid
// real delays.
func WithSleepFunc(fn func(time.Duration)) ClientOption {
	return func(c *Client) { c.sleepFn = fn }
}

// NewClient creates a gateway client from config. The breaker opens after a
// run of consecutive transport-level failures so a dead gateway fails fast
// instead of stalling every fan-out goroutine on timeouts.
func NewClient(cfg config.GatewayConfig, logger types.Logger, opts ...ClientOption) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "push-gateway",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    cb,
		cfg:        cfg,
		logger:     logger,
		sleepFn:    time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send delivers one payload to one subscription. Classification:
//
//   - 2xx: success, nil error
//   - 404/410: ErrSubscriptionExpired (terminal, no retry)
//   - other 4xx: permanent gateway rejection (no retry)
//   - 429/5xx/network: transient; retried up to cfg.MaxRetries with jittered
//     backoff, then surfaced as an AppError
//
// Each attempt carries the Urgency and TTL headers alongside the JSON body so
// the gateway can make queueing decisions without parsing the envelope.
func (c *Client) Send(ctx context.Context, subscription string, payload DeliveryPayload, opts DeliveryOptions) error {
	body, err := json.Marshal(sendRequest{
		Subscription: subscription,
		Payload:      payload,
		Options:      opts,
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeGatewaySend, "failed to encode send request", err)
	}

	var lastErr error
	maxAttempts := 1 + c.cfg.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			return c.doSend(ctx, body, opts)
		})

		if err == nil {
			// Non-transient response: success or a terminal classification.
			return c.classify(resp)
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return types.NewAppError(types.ErrCodeUpstreamRateLimited,
				"push gateway circuit breaker open", err)
		}
		if ctx.Err() != nil {
			return types.NewAppError(types.ErrCodeGatewaySend, "send cancelled", ctx.Err())
		}
		lastErr = types.NewAppError(types.ErrCodeUpstreamGateway, "push gateway request failed", err)

		if attempt < maxAttempts-1 {
			c.sleepFn(c.retryWait(err, attempt))
		}
	}

	return lastErr
}

// doSend executes a single HTTP attempt. Transport errors and retryable
// statuses are returned as errors so the breaker counts them.
func (c *Client) doSend(ctx context.Context, body []byte, opts DeliveryOptions) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Urgency", string(opts.Urgency))
	req.Header.Set("TTL", strconv.Itoa(opts.TTL))
	if traceID := types.GetRequestID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		// Counted as a breaker failure; the response still reaches classify
		// via the retry loop on the next pass, so drain and close here.
		snippet := readSnippet(resp)
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		return nil, &transientStatusError{
			status:     resp.StatusCode,
			snippet:    snippet,
			retryAfter: retryAfter,
		}
	}
	return resp, nil
}

// classify maps a non-transient response to its delivery classification.
// All outcomes here are terminal; transient statuses never reach this point.
func (c *Client) classify(resp *http.Response) error {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("gateway returned %d: %w", resp.StatusCode, ErrSubscriptionExpired)

	default:
		// Remaining 4xx: permanent rejection of this payload.
		return types.NewAppError(types.ErrCodeGatewaySend,
			fmt.Sprintf("push gateway rejected send with %d: %s", resp.StatusCode, readSnippet(resp)), nil)
	}
}

// retryWait selects the delay before the next attempt. A Retry-After hint
// from the gateway takes priority over computed backoff, clamped so fan-out
// latency stays bounded.
func (c *Client) retryWait(err error, attempt int) time.Duration {
	var tse *transientStatusError
	if errors.As(err, &tse) && tse.retryAfter > 0 {
		if tse.retryAfter > retryAfterCap {
			return retryAfterCap
		}
		return tse.retryAfter
	}
	return c.backoff(attempt)
}

// parseRetryAfter interprets the delay-seconds form of a Retry-After header.
// The HTTP-date form and malformed values are ignored.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// backoff computes the wait before the next retry: exponential with full
// jitter, clamped to [250ms, 5s] so fan-out latency stays bounded.
func (c *Client) backoff(attempt int) time.Duration {
	const (
		minWait = 250 * time.Millisecond
		maxWait = 5 * time.Second
	)
	base := float64(minWait) * math.Pow(2, float64(attempt))
	if base > float64(maxWait) {
		base = float64(maxWait)
	}
	jittered := float64(minWait) + rand.Float64()*(base-float64(minWait))
	return time.Duration(jittered)
}

// IsExpired reports whether an error from Send classifies as a stale
// subscription.
func IsExpired(err error) bool {
	return errors.Is(err, ErrSubscriptionExpired)
}

func readSnippet(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))
	return string(b)
}
