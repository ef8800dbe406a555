package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"affwatch/internal/core/domain"
)

// Entries expire on their own so a queue nobody drains cannot grow forever.
const deadLetterTTL = 24 * time.Hour

// DeadLetterQueue parks failed source passes in Redis for later recovery.
type DeadLetterQueue struct {
	rdb *redis.Client
}

// NewDeadLetterQueue creates a Redis-backed dead letter queue.
func NewDeadLetterQueue(client *Client) *DeadLetterQueue {
	return &DeadLetterQueue{rdb: client.rdb}
}

// Key helpers
func (q *DeadLetterQueue) queueKey() string {
	return "affwatch:dead_passes"
}

func (q *DeadLetterQueue) passKey(id string) string {
	return fmt.Sprintf("affwatch:dead_pass:%s", id)
}

// Add parks a failed pass.
func (q *DeadLetterQueue) Add(ctx context.Context, fp *domain.FailedPass) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("failed to marshal failed pass: %w", err)
	}

	// Store the data
	if err := q.rdb.Set(ctx, q.passKey(fp.ID), data, deadLetterTTL).Err(); err != nil {
		return fmt.Errorf("failed to set failed pass: %w", err)
	}

	// Add to sorted set (score = retry count, lower retries first)
	if err := q.rdb.ZAdd(ctx, q.queueKey(), redis.Z{
		Score:  float64(fp.RetryCount),
		Member: fp.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to queue: %w", err)
	}

	return nil
}

// Next retrieves the failed pass with the fewest retries, or nil when the
// queue is empty.
func (q *DeadLetterQueue) Next(ctx context.Context) (*domain.FailedPass, error) {
	results, err := q.rdb.ZRange(ctx, q.queueKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	if len(results) == 0 {
		return nil, nil
	}

	id := results[0]

	data, err := q.rdb.Get(ctx, q.passKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Data expired but the id is still queued, drop it.
		q.rdb.ZRem(ctx, q.queueKey(), id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed pass: %w", err)
	}

	var fp domain.FailedPass
	if err := json.Unmarshal(data, &fp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed pass: %w", err)
	}

	return &fp, nil
}

// IncrementRetry increments retry count and updates last attempt.
func (q *DeadLetterQueue) IncrementRetry(ctx context.Context, id string) error {
	data, err := q.rdb.Get(ctx, q.passKey(id)).Bytes()
	if err != nil {
		return fmt.Errorf("failed to get failed pass: %w", err)
	}

	var fp domain.FailedPass
	if err := json.Unmarshal(data, &fp); err != nil {
		return fmt.Errorf("failed to unmarshal failed pass: %w", err)
	}

	fp.RetryCount++
	fp.LastAttempt = time.Now().Unix()

	newData, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("failed to marshal failed pass: %w", err)
	}

	if err := q.rdb.Set(ctx, q.passKey(id), newData, deadLetterTTL).Err(); err != nil {
		return fmt.Errorf("failed to set failed pass: %w", err)
	}

	// Update score in queue (more retries = lower priority)
	if err := q.rdb.ZAdd(ctx, q.queueKey(), redis.Z{
		Score:  float64(fp.RetryCount),
		Member: id,
	}).Err(); err != nil {
		return fmt.Errorf("failed to update queue: %w", err)
	}

	return nil
}

// Resolve removes a failed pass after a successful retry.
func (q *DeadLetterQueue) Resolve(ctx context.Context, id string) error {
	if err := q.rdb.ZRem(ctx, q.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	if err := q.rdb.Del(ctx, q.passKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete failed pass: %w", err)
	}
	return nil
}

// All retrieves every parked pass.
func (q *DeadLetterQueue) All(ctx context.Context) ([]*domain.FailedPass, error) {
	ids, err := q.rdb.ZRange(ctx, q.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	passes := make([]*domain.FailedPass, 0, len(ids))
	for _, id := range ids {
		data, err := q.rdb.Get(ctx, q.passKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get failed pass: %w", err)
		}

		var fp domain.FailedPass
		if err := json.Unmarshal(data, &fp); err != nil {
			continue
		}
		passes = append(passes, &fp)
	}

	return passes, nil
}

// Count returns the number of parked passes.
func (q *DeadLetterQueue) Count(ctx context.Context) (int, error) {
	count, err := q.rdb.ZCard(ctx, q.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
