package sink

import (
	"context"
	"errors"
	"log/slog"

	"affwatch/internal/core/domain"
)

// Sink defines the interface for persisting finalized records
type Sink interface {
	// Append writes a single record
	Append(ctx context.Context, rec *domain.TxRecord) error

	// AppendBatch writes multiple records
	AppendBatch(ctx context.Context, recs []*domain.TxRecord) error

	// Close flushes and releases the sink
	Close() error
}

// Multi fans every append out to several sinks. A failing member is
// reported but does not stop the others; the record still lands everywhere
// it can.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Append(ctx context.Context, rec *domain.TxRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) AppendBatch(ctx context.Context, recs []*domain.TxRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.AppendBatch(ctx, recs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of member sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// LogSink mirrors records to the log, for debugging runs that do not need
// a durable sink.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Append(ctx context.Context, rec *domain.TxRecord) error {
	s.logger.Info("record",
		"id", rec.ID,
		"protocol", rec.Protocol,
		"matched", rec.Match.Matched,
		"rule", rec.Match.Rule,
		"fee_bps", feeBpsValue(rec),
		"low_confidence", rec.LowConfidence)
	return nil
}

func (s *LogSink) AppendBatch(ctx context.Context, recs []*domain.TxRecord) error {
	for _, rec := range recs {
		if err := s.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *LogSink) Close() error {
	return nil
}

func feeBpsValue(rec *domain.TxRecord) any {
	if rec.Match.FeeBps == nil {
		return nil
	}
	return *rec.Match.FeeBps
}
