// Package detect runs candidate items through the detection pipeline:
// extract a transaction record, apply the affiliate fingerprints, drop
// duplicates, write survivors to the sinks.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"affwatch/internal/core/domain"
	"affwatch/internal/detect/dedup"
	"affwatch/internal/detect/extract"
	"affwatch/internal/detect/match"
	"affwatch/internal/metrics"
	"affwatch/internal/sink"
)

// Config tunes detector behavior.
type Config struct {
	// RecordAll sinks unmatched records too, for audits.
	RecordAll bool

	// MaxRecords closes Done after this many records have been written.
	// Zero means no budget.
	MaxRecords int64
}

// Detector is the per-item detection pipeline.
type Detector struct {
	extractor *extract.Extractor
	matcher   *match.Matcher
	deduper   *dedup.Deduper
	sinks     sink.Sink
	logger    *slog.Logger
	cfg       Config

	stats    Stats
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a detector over the given pipeline stages.
func New(
	extractor *extract.Extractor,
	matcher *match.Matcher,
	deduper *dedup.Deduper,
	sinks sink.Sink,
	logger *slog.Logger,
	cfg Config,
) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		extractor: extractor,
		matcher:   matcher,
		deduper:   deduper,
		sinks:     sinks,
		logger:    logger,
		cfg:       cfg,
		done:      make(chan struct{}),
	}
}

// Process runs one candidate item through the pipeline. Extraction misses
// and duplicates are normal outcomes, not errors; only a sink failure is
// reported back to the caller.
func (d *Detector) Process(ctx context.Context, item domain.CandidateItem) error {
	proto := string(item.Protocol)
	d.stats.scanned.Add(1)
	metrics.ItemsScanned.WithLabelValues(proto).Inc()

	rec, ok := d.extractor.Extract(item)
	if !ok {
		d.stats.misses.Add(1)
		metrics.ExtractionMisses.WithLabelValues(proto).Inc()
		d.logger.Debug("no transaction id in candidate item", "source", item.Source)
		return nil
	}
	d.stats.extracted.Add(1)
	metrics.RecordsExtracted.WithLabelValues(proto).Inc()

	d.matcher.Apply(rec)

	// Scope the seen key by protocol; bare numeric ids from different feeds
	// must not collide.
	if !d.deduper.ShouldProcess(ctx, seenKey(rec)) {
		d.stats.duplicates.Add(1)
		metrics.DuplicatesSkipped.WithLabelValues(proto).Inc()
		return nil
	}
	metrics.SeenSetSize.Set(float64(d.deduper.Len()))

	if rec.Match.Matched {
		d.stats.matched.Add(1)
		for _, rule := range rec.Match.Rules() {
			d.stats.countRule(rule)
			metrics.MatchesTotal.WithLabelValues(proto, string(rule)).Inc()
		}
		d.logger.Info("affiliate transaction detected",
			"id", rec.ID,
			"protocol", rec.Protocol,
			"rule", rec.Match.Rule,
			"fee_bps", rec.Match.FeeBps,
			"low_confidence", rec.LowConfidence)
	}
	if rec.LowConfidence {
		d.stats.lowConfidence.Add(1)
		metrics.LowConfidenceTotal.WithLabelValues(proto).Inc()
	}

	if !rec.Match.Matched && !d.cfg.RecordAll {
		return nil
	}

	if err := d.sinks.Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to sink record %s: %w", rec.ID, err)
	}
	written := d.stats.written.Add(1)

	if d.cfg.MaxRecords > 0 && written >= d.cfg.MaxRecords {
		d.doneOnce.Do(func() { close(d.done) })
	}
	return nil
}

func seenKey(rec *domain.TxRecord) string {
	return string(rec.Protocol) + ":" + rec.ID
}

// RecordSourceError counts a failed source pass.
func (d *Detector) RecordSourceError(protocol domain.Protocol, kind string) {
	d.stats.sourceErrors.Add(1)
	metrics.SourceErrors.WithLabelValues(string(protocol), kind).Inc()
}

// Done is closed once the configured record budget has been written.
// It never closes when no budget is set.
func (d *Detector) Done() <-chan struct{} {
	return d.done
}

// Summary returns a snapshot of the pipeline counters.
func (d *Detector) Summary() Summary {
	return d.stats.snapshot()
}
