package fetch

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"
)

// RetryConfig defines retry behavior for outbound calls.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	BackoffMultiple float64       `yaml:"backoff_multiple"`
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     4,
	InitialDelay:    1 * time.Second,
	MaxDelay:        30 * time.Second,
	BackoffMultiple: 2.0,
}

// StatusError describes a non-2xx HTTP response.
type StatusError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// RPCError describes a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// SourceUnavailableError marks a call that exhausted its retry budget. The
// runner treats it as the source being down rather than a bug in the pass.
type SourceUnavailableError struct {
	Source   string
	Attempts int
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable after %d attempts: %v", e.Source, e.Attempts, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// Transient reports whether an error is worth retrying. Timeouts, network
// failures, 429 and 5xx responses are transient; other 4xx responses and
// malformed-request RPC codes will not improve on a second attempt.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Status == http.StatusTooManyRequests:
			return true
		case statusErr.Status == http.StatusRequestTimeout:
			return true
		case statusErr.Status >= 500:
			return true
		default:
			return false
		}
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		// -32700 parse, -32600 invalid request, -32601 method not found,
		// -32602 invalid params: the request itself is wrong.
		switch rpcErr.Code {
		case -32700, -32600, -32601, -32602:
			return false
		default:
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Unrecognized errors default to retry, matching how unknown RPC
	// failures have always been handled here.
	return true
}

// retryAfter extracts a server-requested delay, zero when absent.
func retryAfter(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffMultiple, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
