package sink

import (
	"context"
	"fmt"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/storage"
	"affwatch/internal/metrics"
)

// PostgresSink appends records through the record repository. Inserts are
// keyed on the transaction id so replaying a record is a no-op.
type PostgresSink struct {
	repo storage.RecordRepository
}

func NewPostgresSink(repo storage.RecordRepository) *PostgresSink {
	return &PostgresSink{repo: repo}
}

func (s *PostgresSink) Append(ctx context.Context, rec *domain.TxRecord) error {
	if err := s.repo.Save(ctx, rec); err != nil {
		metrics.SinkErrors.WithLabelValues("postgres").Inc()
		return fmt.Errorf("failed to append record to database: %w", err)
	}
	metrics.SinkWrites.WithLabelValues("postgres").Inc()
	return nil
}

func (s *PostgresSink) AppendBatch(ctx context.Context, recs []*domain.TxRecord) error {
	if len(recs) == 0 {
		return nil
	}
	if err := s.repo.SaveBatch(ctx, recs); err != nil {
		metrics.SinkErrors.WithLabelValues("postgres").Inc()
		return fmt.Errorf("failed to append batch to database: %w", err)
	}
	metrics.SinkWrites.WithLabelValues("postgres").Add(float64(len(recs)))
	return nil
}

func (s *PostgresSink) Close() error {
	return nil
}
