// Package dedup guarantees at-most-once processing of transaction ids.
// The in-memory set is authoritative for the current run; an optional
// SeenStore persists ids across runs and seeds the set at startup. When the
// store misbehaves the deduper degrades to memory-only operation instead of
// failing the run.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// SeenStore persists seen transaction ids across runs.
type SeenStore interface {
	SeedSeen(ctx context.Context) ([]string, error)
	AddSeen(ctx context.Context, id string) error
}

// Deduper tracks which transaction ids have been processed.
type Deduper struct {
	store     SeenStore
	logger    *slog.Logger
	seen      map[string]struct{}
	mu        sync.Mutex
	storeErrs atomic.Int64
}

// New creates a deduper. store may be nil for memory-only operation.
func New(store SeenStore, logger *slog.Logger) *Deduper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduper{
		store:  store,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Seed loads previously seen ids from the store. A store error leaves the
// deduper usable; the caller decides whether to warn or abort.
func (d *Deduper) Seed(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	ids, err := d.store.SeedSeen(ctx)
	if err != nil {
		d.storeErrs.Add(1)
		return fmt.Errorf("failed to seed seen set: %w", err)
	}
	d.mu.Lock()
	for _, id := range ids {
		d.seen[id] = struct{}{}
	}
	d.mu.Unlock()
	return nil
}

// ShouldProcess reports whether id is new and, if so, claims it. The check
// and the insert share one critical section: two callers racing on the same
// id can never both observe true. A failed persist keeps the id claimed in
// memory and only costs cross-run durability.
func (d *Deduper) ShouldProcess(ctx context.Context, id string) bool {
	d.mu.Lock()
	if _, dup := d.seen[id]; dup {
		d.mu.Unlock()
		return false
	}
	d.seen[id] = struct{}{}
	d.mu.Unlock()

	if d.store != nil {
		if err := d.store.AddSeen(ctx, id); err != nil {
			d.storeErrs.Add(1)
			d.logger.Warn("failed to persist seen id, continuing memory-only",
				"id", id,
				"error", err)
		}
	}
	return true
}

// Len returns the number of ids seen so far, including seeded ones.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// StoreErrors returns how many persistence operations have failed.
func (d *Deduper) StoreErrors() int64 {
	return d.storeErrs.Load()
}
