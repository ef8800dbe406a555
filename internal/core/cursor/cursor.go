// Package cursor remembers how far each feed has been read.
//
// Positions are opaque strings owned by the source that writes them: a
// nanosecond timestamp for Midgard actions, a block number for CoW Swap
// trades, a paging token for the 0x feed. The manager caches and persists
// positions without interpreting them.
//
// Losing a cursor is safe. A source that restarts from an older position
// re-emits items the pipeline has already processed, and the dedup layer
// drops them.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/storage"
)

// Manager caches cursor positions in front of a repository.
type Manager struct {
	repo   storage.CursorRepository
	logger *slog.Logger

	mu        sync.Mutex
	positions map[string]string
}

// NewManager creates a manager backed by repo.
func NewManager(repo storage.CursorRepository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:      repo,
		logger:    logger,
		positions: make(map[string]string),
	}
}

// Position returns the last recorded position for source, or "" when the
// source has never advanced. Repository misses are cached so each source
// hits the repository at most once.
func (m *Manager) Position(ctx context.Context, source string) string {
	m.mu.Lock()
	if pos, ok := m.positions[source]; ok {
		m.mu.Unlock()
		return pos
	}
	m.mu.Unlock()

	cur, err := m.repo.Get(ctx, source)
	if err != nil {
		if !errors.Is(err, storage.ErrCursorNotFound) {
			m.logger.Warn("failed to load cursor, starting fresh",
				"source", source,
				"error", err)
		}
		m.remember(source, "")
		return ""
	}

	m.remember(source, cur.Position)
	return cur.Position
}

// Advance records a new position for source. An unchanged position is
// dropped without touching the repository.
func (m *Manager) Advance(ctx context.Context, source, position string) error {
	m.mu.Lock()
	prev, had := m.positions[source]
	if had && prev == position {
		m.mu.Unlock()
		return nil
	}
	m.positions[source] = position
	m.mu.Unlock()

	cur := &domain.Cursor{
		Source:    source,
		Position:  position,
		UpdatedAt: time.Now(),
	}
	if err := m.repo.Save(ctx, cur); err != nil {
		// Roll the cache back so the next advance retries the write.
		m.mu.Lock()
		if m.positions[source] == position {
			if had {
				m.positions[source] = prev
			} else {
				delete(m.positions, source)
			}
		}
		m.mu.Unlock()
		return fmt.Errorf("failed to save cursor for %s: %w", source, err)
	}

	return nil
}

func (m *Manager) remember(source, position string) {
	m.mu.Lock()
	m.positions[source] = position
	m.mu.Unlock()
}
