// Package pebbledb is the embedded store for standalone runs. The persistent
// seen set, per-source cursors and the raw-payload audit log live under
// distinct key prefixes in one Pebble database, so a single directory on
// disk carries everything a restart needs.
package pebbledb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"
)

// Key prefixes (simulating column families)
const (
	prefixSeen   = "seen:"
	prefixCursor = "cur:"
	prefixRaw    = "raw:"
)

// Store wraps the Pebble database.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MaxOpenFiles: 200,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func seenKey(id string) []byte {
	return append([]byte(prefixSeen), id...)
}

func cursorKey(source string) []byte {
	return append([]byte(prefixCursor), source...)
}

func rawKey(id string) []byte {
	return append([]byte(prefixRaw), id...)
}

// SeedSeen returns every persisted transaction id.
func (s *Store) SeedSeen(ctx context.Context) ([]string, error) {
	iter, err := s.newPrefixIter(prefixSeen)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, string(iter.Key()[len(prefixSeen):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan seen set: %w", err)
	}
	return ids, nil
}

// AddSeen persists a transaction id. The value is the capture time, kept
// only to make manual inspection of the store useful.
func (s *Store) AddSeen(ctx context.Context, id string) error {
	value := strconv.AppendInt(nil, time.Now().Unix(), 10)
	if err := s.db.Set(seenKey(id), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to persist seen id: %w", err)
	}
	return nil
}

// ClearSeen drops persisted ids starting with prefix and reports how many
// were removed. An empty prefix drops the entire seen set.
func (s *Store) ClearSeen(ctx context.Context, prefix string) (int, error) {
	iter, err := s.newPrefixIter(prefixSeen + prefix)
	if err != nil {
		return 0, err
	}

	var keys [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		keys = append(keys, key)
	}
	scanErr := iter.Error()
	iter.Close()
	if scanErr != nil {
		return 0, fmt.Errorf("failed to scan seen set: %w", scanErr)
	}

	for _, key := range keys {
		if err := s.db.Delete(key, pebble.NoSync); err != nil {
			return 0, fmt.Errorf("failed to delete seen id: %w", err)
		}
	}
	if err := s.db.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush deletes: %w", err)
	}
	return len(keys), nil
}

type rawEntry struct {
	CapturedAt time.Time       `json:"captured_at"`
	Payload    json.RawMessage `json:"payload"`
}

// PutRaw stores the untouched source payload for a transaction id.
func (s *Store) PutRaw(ctx context.Context, id string, capturedAt time.Time, payload []byte) error {
	value, err := json.Marshal(rawEntry{CapturedAt: capturedAt.UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal raw entry: %w", err)
	}
	if err := s.db.Set(rawKey(id), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to store raw payload: %w", err)
	}
	return nil
}

// GetRaw returns the stored payload for id, or nil when absent.
func (s *Store) GetRaw(ctx context.Context, id string) ([]byte, error) {
	value, closer, err := s.db.Get(rawKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read raw payload: %w", err)
	}
	defer closer.Close()

	var entry rawEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw entry: %w", err)
	}
	return entry.Payload, nil
}

// PruneRawOlderThan removes audit payloads captured before cutoff.
func (s *Store) PruneRawOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	iter, err := s.newPrefixIter(prefixRaw)
	if err != nil {
		return 0, err
	}

	var expired [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var entry rawEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		if entry.CapturedAt.Before(cutoff) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			expired = append(expired, key)
		}
	}
	scanErr := iter.Error()
	iter.Close()
	if scanErr != nil {
		return 0, fmt.Errorf("failed to scan raw payloads: %w", scanErr)
	}

	for _, key := range expired {
		if err := s.db.Delete(key, pebble.NoSync); err != nil {
			return 0, fmt.Errorf("failed to delete raw payload: %w", err)
		}
	}
	if len(expired) > 0 {
		if err := s.db.Flush(); err != nil {
			return 0, fmt.Errorf("failed to flush deletes: %w", err)
		}
	}
	return len(expired), nil
}

func (s *Store) newPrefixIter(prefix string) (*pebble.Iterator, error) {
	lower := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	return iter, nil
}

// prefixUpperBound returns the upper bound for prefix iteration.
func prefixUpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
