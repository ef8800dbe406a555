package scan

import (
	"context"
	"fmt"
	"math"
	"time"

	"affwatch/internal/core/domain"
)

// Recovery retry schedule. Parked passes already exhausted the fetch-level
// retry budget, so the steps here are coarse: 1m, 2m, 4m, 8m, 16m.
const (
	recoveryInterval     = 30 * time.Second
	maxRecoveryRetries   = 5
	initialRecoveryDelay = time.Minute
	maxRecoveryDelay     = 30 * time.Minute
)

// recoveryDelay calculates the backoff for the given retry count.
func recoveryDelay(attempt int) time.Duration {
	delay := float64(initialRecoveryDelay) * math.Pow(2, float64(attempt))
	if delay > float64(maxRecoveryDelay) {
		return maxRecoveryDelay
	}
	return time.Duration(delay)
}

// recoveryLoop periodically retries parked passes until ctx ends.
func (r *Runner) recoveryLoop(ctx context.Context, queue chan<- domain.CandidateItem) {
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.recoverNext(ctx, queue); err != nil && ctx.Err() == nil {
				r.logger.Warn("recovery step failed", "error", err)
			}
		}
	}
}

// recoverNext retries the parked pass with the fewest attempts, if its
// backoff window has passed.
func (r *Runner) recoverNext(ctx context.Context, queue chan<- domain.CandidateItem) error {
	fp, err := r.dlq.Next(ctx)
	if err != nil {
		return fmt.Errorf("failed to get next parked pass: %w", err)
	}
	if fp == nil {
		return nil
	}

	if fp.RetryCount >= maxRecoveryRetries {
		r.logger.Error("dropping parked pass after max retries",
			"source", fp.Source, "retries", fp.RetryCount, "last_error", fp.ErrorMsg)
		return r.dlq.Resolve(ctx, fp.ID)
	}

	lastAttempt := time.Unix(fp.LastAttempt, 0)
	if time.Now().Before(lastAttempt.Add(recoveryDelay(fp.RetryCount))) {
		return nil
	}

	feed := r.feedByName(fp.Source)
	if feed == nil {
		// The source is no longer configured; its parked passes are moot.
		r.logger.Warn("dropping parked pass for unknown source", "source", fp.Source)
		return r.dlq.Resolve(ctx, fp.ID)
	}

	position := r.cursors.Position(ctx, fp.Source)
	newPosition, err := feed.Source.Poll(ctx, position, enqueue(queue))
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if incErr := r.dlq.IncrementRetry(ctx, fp.ID); incErr != nil {
			return fmt.Errorf("failed to increment retry: %w", incErr)
		}
		return nil
	}

	if newPosition != "" && newPosition != position {
		if err := r.cursors.Advance(ctx, fp.Source, newPosition); err != nil {
			r.logger.Warn("failed to advance cursor", "source", fp.Source, "error", err)
		}
	}
	if r.monitor != nil {
		r.monitor.RecordSuccess(fp.Source)
	}
	r.logger.Info("recovered parked source pass", "source", fp.Source, "retries", fp.RetryCount)
	return r.dlq.Resolve(ctx, fp.ID)
}
