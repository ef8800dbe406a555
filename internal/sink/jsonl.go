package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"affwatch/internal/core/domain"
	"affwatch/internal/metrics"
)

// JSONLSink appends records as one JSON object per line. Each record is a
// single Write call so lines cannot interleave.
type JSONLSink struct {
	file *os.File
	mu   sync.Mutex
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sink directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open jsonl sink: %w", err)
	}
	return &JSONLSink{file: file}, nil
}

func (s *JSONLSink) Append(ctx context.Context, rec *domain.TxRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		metrics.SinkErrors.WithLabelValues("jsonl").Inc()
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(line); err != nil {
		metrics.SinkErrors.WithLabelValues("jsonl").Inc()
		return fmt.Errorf("failed to append jsonl record: %w", err)
	}
	metrics.SinkWrites.WithLabelValues("jsonl").Inc()
	return nil
}

func (s *JSONLSink) AppendBatch(ctx context.Context, recs []*domain.TxRecord) error {
	for _, rec := range recs {
		if err := s.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
