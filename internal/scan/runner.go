// Package scan drives the source feeds. One producer goroutine per feed
// polls on its own interval and pushes candidate items onto a shared queue;
// a single consumer runs them through the detection pipeline. Passes that
// exhaust their retry budget are parked in a dead letter queue and retried
// by the recovery loop with backoff.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"affwatch/internal/core/cursor"
	"affwatch/internal/core/domain"
	"affwatch/internal/detect"
	"affwatch/internal/infra/fetch"
	"affwatch/internal/metrics"
	"affwatch/internal/scan/health"
	"affwatch/internal/source"
)

// DeadLetterQueue parks failed source passes for later recovery.
type DeadLetterQueue interface {
	Add(ctx context.Context, fp *domain.FailedPass) error
	Next(ctx context.Context) (*domain.FailedPass, error)
	IncrementRetry(ctx context.Context, id string) error
	Resolve(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Feed pairs a source with its poll interval.
type Feed struct {
	Source   source.Source
	Interval time.Duration
}

// Config tunes the runner.
type Config struct {
	// QueueSize bounds the candidate item queue between producers and the
	// detection pipeline.
	QueueSize int

	// Once runs a single pass over every feed and exits.
	Once bool
}

// Runner owns the poll loops for every configured feed.
type Runner struct {
	feeds    []Feed
	detector *detect.Detector
	cursors  *cursor.Manager
	dlq      DeadLetterQueue
	monitor  *health.Monitor
	logger   *slog.Logger
	cfg      Config
}

// NewRunner creates a runner. dlq and monitor may be nil.
func NewRunner(
	feeds []Feed,
	detector *detect.Detector,
	cursors *cursor.Manager,
	dlq DeadLetterQueue,
	monitor *health.Monitor,
	logger *slog.Logger,
	cfg Config,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Runner{
		feeds:    feeds,
		detector: detector,
		cursors:  cursors,
		dlq:      dlq,
		monitor:  monitor,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run polls every feed until ctx ends, the record budget is reached, or, in
// once mode, every feed has completed a single pass. Queued items are always
// drained through the pipeline before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-r.detector.Done():
			r.logger.Info("record budget reached, stopping scan")
			cancel()
		case <-runCtx.Done():
		}
	}()

	queue := make(chan domain.CandidateItem, r.cfg.QueueSize)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		// Items already queued still flush during shutdown, so the drain
		// runs on a context that outlives runCtx.
		drainCtx := context.Background()
		for item := range queue {
			if err := r.detector.Process(drainCtx, item); err != nil {
				r.logger.Error("failed to process item",
					"source", item.Source, "error", err)
			}
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	for _, feed := range r.feeds {
		feed := feed
		if r.monitor != nil {
			r.monitor.Register(feed.Source.Name())
		}
		g.Go(func() error {
			r.runFeed(gctx, feed, queue)
			return nil
		})
	}
	if r.dlq != nil && !r.cfg.Once {
		g.Go(func() error {
			r.recoveryLoop(gctx, queue)
			return nil
		})
	}

	err := g.Wait()
	close(queue)
	<-consumerDone

	summary := r.detector.Summary()
	r.logger.Info("scan finished",
		"scanned", summary.Scanned,
		"extracted", summary.Extracted,
		"misses", summary.ExtractionMisses,
		"duplicates", summary.Duplicates,
		"matched", summary.Matched,
		"low_confidence", summary.LowConfidence,
		"written", summary.Written,
		"source_errors", summary.SourceErrors)
	return err
}

// runFeed polls one feed immediately and then on its interval.
func (r *Runner) runFeed(ctx context.Context, feed Feed, queue chan<- domain.CandidateItem) {
	interval := feed.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	r.pollOnce(ctx, feed.Source, queue)
	if r.cfg.Once {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx, feed.Source, queue)
		}
	}
}

// pollOnce executes one pass over a source.
func (r *Runner) pollOnce(ctx context.Context, src source.Source, queue chan<- domain.CandidateItem) {
	name := src.Name()

	// 1. Load the stored position.
	position := r.cursors.Position(ctx, name)

	// 2. Poll, pushing items onto the queue as they arrive.
	newPosition, err := src.Poll(ctx, position, enqueue(queue))
	if err != nil {
		// Shutdown is not a source failure.
		if ctx.Err() != nil {
			return
		}
		r.handlePollError(ctx, src, err)
		return
	}

	// 3. Persist the new position.
	if newPosition != "" && newPosition != position {
		if err := r.cursors.Advance(ctx, name, newPosition); err != nil {
			r.logger.Warn("failed to advance cursor", "source", name, "error", err)
		}
	}

	if r.monitor != nil {
		r.monitor.RecordSuccess(name)
	}
	metrics.LastPollTimestamp.WithLabelValues(name).SetToCurrentTime()
}

// handlePollError classifies a failed pass. Exhausted retry budgets are
// parked for the recovery loop; everything else is logged and counted.
func (r *Runner) handlePollError(ctx context.Context, src source.Source, err error) {
	name := src.Name()
	if r.monitor != nil {
		r.monitor.RecordFailure(name)
	}

	var unavail *fetch.SourceUnavailableError
	if errors.As(err, &unavail) {
		r.detector.RecordSourceError(src.Protocol(), "unavailable")
		if r.dlq != nil {
			now := time.Now().Unix()
			fp := &domain.FailedPass{
				ID:          uuid.New().String(),
				Source:      name,
				Protocol:    src.Protocol(),
				ErrorMsg:    err.Error(),
				LastAttempt: now,
				CreatedAt:   now,
			}
			if qErr := r.dlq.Add(ctx, fp); qErr != nil {
				r.logger.Error("failed to park source pass", "source", name, "error", qErr)
			} else {
				r.logger.Warn("source unavailable, parked for recovery",
					"source", name, "attempts", unavail.Attempts, "error", unavail.Err)
				return
			}
		}
		r.logger.Warn("source unavailable", "source", name, "error", err)
		return
	}

	r.detector.RecordSourceError(src.Protocol(), "poll")
	r.logger.Warn("source pass failed", "source", name, "error", err)
}

// feedByName finds a configured feed, nil when the source is unknown.
func (r *Runner) feedByName(name string) *Feed {
	for i := range r.feeds {
		if r.feeds[i].Source.Name() == name {
			return &r.feeds[i]
		}
	}
	return nil
}

// enqueue adapts the queue into an emit callback that respects cancellation
// while the queue is full.
func enqueue(queue chan<- domain.CandidateItem) source.EmitFunc {
	return func(ctx context.Context, item domain.CandidateItem) error {
		select {
		case queue <- item:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
