package sink

import (
	"context"
	"fmt"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/metrics"
)

// AuditStore persists raw source payloads keyed by transaction id.
type AuditStore interface {
	PutRaw(ctx context.Context, id string, capturedAt time.Time, payload []byte) error
}

// AuditSink keeps the untouched payload of every appended record so a
// disputed row can be traced back to what the source actually returned.
type AuditSink struct {
	store AuditStore
}

func NewAuditSink(store AuditStore) *AuditSink {
	return &AuditSink{store: store}
}

func (s *AuditSink) Append(ctx context.Context, rec *domain.TxRecord) error {
	if len(rec.Raw) == 0 {
		return nil
	}
	if err := s.store.PutRaw(ctx, rec.ID, rec.CapturedAt, rec.Raw); err != nil {
		metrics.SinkErrors.WithLabelValues("audit").Inc()
		return fmt.Errorf("failed to store raw payload: %w", err)
	}
	metrics.SinkWrites.WithLabelValues("audit").Inc()
	return nil
}

func (s *AuditSink) AppendBatch(ctx context.Context, recs []*domain.TxRecord) error {
	for _, rec := range recs {
		if err := s.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *AuditSink) Close() error {
	return nil
}
