package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(attempts int) Config {
	return Config{
		Timeout: 2 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:     attempts,
			InitialDelay:    1 * time.Millisecond,
			MaxDelay:        5 * time.Millisecond,
			BackoffMultiple: 2.0,
		},
	}
}

func TestGetJSONRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if calls.Add(1) == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	c := NewClient("test", fastRetry(3))
	var out struct {
		Status string `json:"status"`
	}
	if err := c.GetJSON(context.Background(), server.URL, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.Status != "ok" {
		t.Errorf("status = %q, want ok", out.Status)
	}
	if calls.Load() != 2 {
		t.Errorf("server saw %d calls, want 2", calls.Load())
	}
}

func TestPermanentFailureStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := NewClient("test", fastRetry(4))
	_, err := c.Get(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusNotFound {
		t.Fatalf("error = %v, want 404 StatusError", err)
	}
	var unavailable *SourceUnavailableError
	if errors.As(err, &unavailable) {
		t.Error("a permanent failure must not be reported as source unavailable")
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1 for a permanent failure", calls.Load())
	}
}

func TestExhaustedRetriesReportUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient("midgard", fastRetry(3))
	_, err := c.Get(context.Background(), server.URL)

	var unavailable *SourceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want SourceUnavailableError", err)
	}
	if unavailable.Source != "midgard" || unavailable.Attempts != 3 {
		t.Errorf("unavailable = %+v", unavailable)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want the full retry budget", calls.Load())
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusBadGateway {
		t.Errorf("final cause not preserved: %v", err)
	}
}

func TestRPCCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[{"swap_id":7}]}`))
	}))
	defer server.Close()

	c := NewClient("test", fastRetry(2))
	result, err := c.RPCCall(context.Background(), server.URL, "cf_scheduled_swaps", nil)
	if err != nil {
		t.Fatalf("RPCCall: %v", err)
	}
	if string(result) != `[{"swap_id":7}]` {
		t.Errorf("result = %s", result)
	}
}

func TestRPCCallErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer server.Close()

	c := NewClient("test", fastRetry(2))
	_, err := c.RPCCall(context.Background(), server.URL, "bogus", nil)

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Fatalf("error = %v, want RPCError -32601", err)
	}
	if Transient(err) {
		t.Error("method-not-found must be classified permanent")
	}
}

func TestLimiterSpacesCalls(t *testing.T) {
	l := NewLimiter(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("three calls finished in %v, want at least 40ms of spacing", elapsed)
	}
}

func TestLimiterHonorsCancel(t *testing.T) {
	l := NewLimiter(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Wait = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}
