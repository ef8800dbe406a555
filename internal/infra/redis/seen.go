package redis

import (
	"context"
	"fmt"
	"strings"
)

const seenKey = "affwatch:seen"

// SeenStore persists the dedup seen set in a Redis set so multiple workers
// and consecutive runs share one at-most-once horizon.
type SeenStore struct {
	client *Client
}

// NewSeenStore creates a Redis-backed seen store.
func NewSeenStore(client *Client) *SeenStore {
	return &SeenStore{client: client}
}

// SeedSeen returns every persisted transaction id.
func (s *SeenStore) SeedSeen(ctx context.Context) ([]string, error) {
	ids, err := s.client.rdb.SMembers(ctx, seenKey).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers failed: %w", err)
	}
	return ids, nil
}

// AddSeen persists a transaction id.
func (s *SeenStore) AddSeen(ctx context.Context, id string) error {
	if err := s.client.rdb.SAdd(ctx, seenKey, id).Err(); err != nil {
		return fmt.Errorf("sadd failed: %w", err)
	}
	return nil
}

// ClearSeen drops persisted ids starting with prefix and reports how many
// were removed. An empty prefix drops the entire seen set.
func (s *SeenStore) ClearSeen(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		count, err := s.client.rdb.SCard(ctx, seenKey).Result()
		if err != nil {
			return 0, fmt.Errorf("scard failed: %w", err)
		}
		if err := s.client.rdb.Del(ctx, seenKey).Err(); err != nil {
			return 0, fmt.Errorf("del failed: %w", err)
		}
		return int(count), nil
	}

	removed := 0
	iter := s.client.rdb.SScan(ctx, seenKey, 0, escapeMatch(prefix)+"*", 500).Iterator()
	var batch []any
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 500 {
			if err := s.client.rdb.SRem(ctx, seenKey, batch...).Err(); err != nil {
				return removed, fmt.Errorf("srem failed: %w", err)
			}
			removed += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("sscan failed: %w", err)
	}
	if len(batch) > 0 {
		if err := s.client.rdb.SRem(ctx, seenKey, batch...).Err(); err != nil {
			return removed, fmt.Errorf("srem failed: %w", err)
		}
		removed += len(batch)
	}
	return removed, nil
}

// escapeMatch quotes the glob metacharacters SCAN MATCH would otherwise
// interpret.
func escapeMatch(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
