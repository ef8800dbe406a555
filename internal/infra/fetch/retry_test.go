package fetch

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &StatusError{Status: 429}, true},
		{"request timeout", &StatusError{Status: 408}, true},
		{"server error", &StatusError{Status: 503}, true},
		{"not found", &StatusError{Status: 404}, false},
		{"bad request", &StatusError{Status: 400}, false},
		{"unauthorized", &StatusError{Status: 401}, false},
		{"wrapped status", fmt.Errorf("pass failed: %w", &StatusError{Status: 500}), true},
		{"rpc parse error", &RPCError{Code: -32700, Message: "parse error"}, false},
		{"rpc method not found", &RPCError{Code: -32601, Message: "method not found"}, false},
		{"rpc server error", &RPCError{Code: -32000, Message: "busy"}, true},
		{"plain error", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.want {
				t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:     5,
		InitialDelay:    1 * time.Second,
		MaxDelay:        10 * time.Second,
		BackoffMultiple: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, config); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSourceUnavailableErrorUnwrap(t *testing.T) {
	inner := &StatusError{Status: 502, Body: "bad gateway"}
	err := &SourceUnavailableError{Source: "thorchain", Attempts: 4, Err: inner}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatal("SourceUnavailableError must unwrap to the final cause")
	}
	if statusErr.Status != 502 {
		t.Errorf("unwrapped status = %d, want 502", statusErr.Status)
	}
}
