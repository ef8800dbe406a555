package worker

import (
	"context"
	"log/slog"
	"time"
)

// RecordPruner deletes stored records captured before cutoff.
type RecordPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditPruner deletes raw audit payloads captured before cutoff.
type AuditPruner interface {
	PruneRawOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Pruner deletes old data based on the retention policy. Either target may
// be nil when that store is not configured.
type Pruner struct {
	retention time.Duration
	records   RecordPruner
	audit     AuditPruner
	logger    *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, records RecordPruner, audit AuditPruner, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		retention: retention,
		records:   records,
		audit:     audit,
		logger:    logger,
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check at 10% of the retention period, clamped to [1m, 1h].
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := time.Now().Add(-p.retention)

	if p.records != nil {
		if n, err := p.records.DeleteOlderThan(ctx, cutoff); err != nil {
			p.logger.Error("failed to prune records", "error", err)
		} else if n > 0 {
			p.logger.Info("pruned stored records", "deleted", n)
		}
	}

	if p.audit != nil {
		if n, err := p.audit.PruneRawOlderThan(ctx, cutoff); err != nil {
			p.logger.Error("failed to prune audit payloads", "error", err)
		} else if n > 0 {
			p.logger.Info("pruned audit payloads", "deleted", n)
		}
	}
}
