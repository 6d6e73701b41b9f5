package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pushpipe/internal/config"
	"pushpipe/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.GatewayConfig{
		URL:        server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		UserAgent:  "pushpipe-test/1.0",
	}
	return NewClient(cfg, nopLogger{}, WithSleepFunc(func(time.Duration) {}))
}

func testPayload() DeliveryPayload {
	return DeliveryPayload{
		Title:       "Test",
		Body:        "Body",
		Type:        "generic_update",
		RecipientID: "rec-1",
		JobID:       "job-1",
	}
}

func TestClient_Send_Success(t *testing.T) {
	var gotUrgency, gotTTL, gotContentType string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUrgency = r.Header.Get("Urgency")
		gotTTL = r.Header.Get("TTL")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	})

	err := client.Send(context.Background(), "sub-1", testPayload(), OptionsFor(types.UrgencyCritical))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUrgency != "critical" {
		t.Errorf("Urgency header = %q, want critical", gotUrgency)
	}
	if gotTTL != "86400" {
		t.Errorf("TTL header = %q, want 86400", gotTTL)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
}

func TestClient_Send_ExpiredSubscription(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		var calls int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(status)
		})

		err := client.Send(context.Background(), "sub-1", testPayload(), OptionsFor(types.UrgencyNormal))
		if !IsExpired(err) {
			t.Errorf("status %d: IsExpired = false, err = %v", status, err)
		}
		if calls != 1 {
			t.Errorf("status %d: expired classification must not retry, got %d calls", status, calls)
		}
	}
}

func TestClient_Send_PermanentRejectionNoRetry(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	err := client.Send(context.Background(), "sub-1", testPayload(), OptionsFor(types.UrgencyNormal))
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if IsExpired(err) {
		t.Error("400 must not classify as expired")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeGatewaySend {
		t.Errorf("expected gateway send AppError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent rejection must not retry, got %d calls", calls)
	}
}

func TestClient_Send_ServerErrorRetriesThenFails(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := client.Send(context.Background(), "sub-1", testPayload(), OptionsFor(types.UrgencyNormal))
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeUpstreamGateway {
		t.Errorf("expected upstream gateway AppError, got %v", err)
	}
	// MaxRetries=2 means 3 attempts total.
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestClient_Send_RecoversWithinRetryBudget(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := client.Send(context.Background(), "sub-1", testPayload(), OptionsFor(types.UrgencyNormal))
	if err != nil {
		t.Fatalf("send should succeed on retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestClient_Send_HonorsRetryAfterHint(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	var slept []time.Duration
	client := NewClient(config.GatewayConfig{
		URL:        server.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		UserAgent:  "pushpipe-test/1.0",
	}, nopLogger{}, WithSleepFunc(func(d time.Duration) { slept = append(slept, d) }))

	if err := client.Send(context.Background(), "sub-1", testPayload(), OptionsFor(types.UrgencyNormal)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("slept = %v, want [2s] from the Retry-After hint", slept)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"0", 0},
		{"-1", 0},
		{"Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.value); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestClient_Send_ContextCancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Send(ctx, "sub-1", testPayload(), OptionsFor(types.UrgencyNormal))
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestClient_Send_ForwardsTraceID(t *testing.T) {
	var gotTrace string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotTrace = r.Header.Get("X-Trace-Id")
		w.WriteHeader(http.StatusOK)
	})

	ctx := types.WithRequestID(context.Background(), "trace-123")
	if err := client.Send(ctx, "sub-1", testPayload(), OptionsFor(types.UrgencyNormal)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTrace != "trace-123" {
		t.Errorf("X-Trace-Id = %q, want trace-123", gotTrace)
	}
}
