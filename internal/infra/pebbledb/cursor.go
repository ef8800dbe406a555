package pebbledb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/storage"
)

// CursorStore implements storage.CursorRepository on the embedded store.
type CursorStore struct {
	store *Store
}

func NewCursorStore(store *Store) *CursorStore {
	return &CursorStore{store: store}
}

// Get retrieves the cursor for a source.
func (c *CursorStore) Get(ctx context.Context, source string) (*domain.Cursor, error) {
	value, closer, err := c.store.db.Get(cursorKey(source))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, storage.ErrCursorNotFound
		}
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}
	defer closer.Close()

	var cursor domain.Cursor
	if err := json.Unmarshal(value, &cursor); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	return &cursor, nil
}

// Save saves/updates the cursor.
func (c *CursorStore) Save(ctx context.Context, cursor *domain.Cursor) error {
	value, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}
	if err := c.store.db.Set(cursorKey(cursor.Source), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// All retrieves every stored cursor.
func (c *CursorStore) All(ctx context.Context) ([]*domain.Cursor, error) {
	iter, err := c.store.newPrefixIter(prefixCursor)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var cursors []*domain.Cursor
	for iter.First(); iter.Valid(); iter.Next() {
		var cursor domain.Cursor
		if err := json.Unmarshal(iter.Value(), &cursor); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cursor: %w", err)
		}
		cursors = append(cursors, &cursor)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to scan cursors: %w", err)
	}
	return cursors, nil
}
