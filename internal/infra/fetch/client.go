// Package fetch is the single outbound HTTP path for every source. Calls
// carry a per-request timeout and bounded exponential backoff; transient
// failures are retried, permanent ones fail fast, and an exhausted retry
// budget surfaces as a SourceUnavailableError the runner can park for
// recovery.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"affwatch/internal/metrics"
)

// responses are capped so a misbehaving endpoint cannot exhaust memory
const maxResponseBytes = 10 << 20

// Config holds per-source HTTP settings.
type Config struct {
	Timeout     time.Duration `yaml:"timeout"`
	MinInterval time.Duration `yaml:"min_interval"`
	Retry       RetryConfig   `yaml:"retry"`
}

// Client makes rate-limited, retried HTTP calls on behalf of one source.
type Client struct {
	name       string
	httpClient *http.Client
	retry      RetryConfig
	limiter    *Limiter
}

// NewClient creates a client named after the source it serves.
func NewClient(name string, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig
	}

	return &Client{
		name: name,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:   retry,
		limiter: NewLimiter(cfg.MinInterval),
	}
}

// Get fetches url and returns the response body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil, "")
}

// GetJSON fetches url and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// PostJSON posts payload as JSON to url and decodes the response into out.
// out may be nil when the response body does not matter.
func (c *Client) PostJSON(ctx context.Context, url string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, url, data, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// RPCCall makes a JSON-RPC 2.0 call and returns the raw result. An error
// object in the envelope comes back as *RPCError.
func (c *Client) RPCCall(ctx context.Context, url, method string, params any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, url, data, "application/json")
	if err != nil {
		return nil, err
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// do runs one call through the rate limiter and the retry loop.
func (c *Client) do(ctx context.Context, method, url string, payload []byte, contentType string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt-1, c.retry)
			// The server's own Retry-After wins over our schedule.
			if ra := retryAfter(lastErr); ra > delay {
				delay = ra
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.once(ctx, method, url, payload, contentType)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if !Transient(err) {
			return nil, err
		}
	}

	return nil, &SourceUnavailableError{
		Source:   c.name,
		Attempts: c.retry.MaxAttempts,
		Err:      lastErr,
	}
}

func (c *Client) once(ctx context.Context, method, url string, payload []byte, contentType string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, text/html")
	req.Header.Set("User-Agent", "affwatch/1.0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.FetchLatency.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			Status:     resp.StatusCode,
			Body:       truncate(string(body), 256),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
