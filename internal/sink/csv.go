package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/metrics"
)

// csvColumns is the fixed output schema. Order never changes between runs;
// the files are append-only and downstream consumers parse by position.
var csvColumns = []string{
	"id", "protocol", "timestamp", "captured_at", "matched", "rule",
	"rules", "fee_bps", "participants", "amounts", "app_code", "memo",
	"low_confidence",
}

// CSVSink appends records to a CSV file, writing the header only when the
// file starts empty.
type CSVSink struct {
	file *os.File
	w    *csv.Writer
	mu   sync.Mutex
}

func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sink directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv sink: %w", err)
	}

	s := &CSVSink{file: file, w: csv.NewWriter(file)}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat csv sink: %w", err)
	}
	if info.Size() == 0 {
		if err := s.w.Write(csvColumns); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write csv header: %w", err)
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to flush csv header: %w", err)
		}
	}
	return s, nil
}

// Append writes one record as one row. The row is fully built before any
// byte reaches the writer and flushed before Append returns, so a crash
// between appends never leaves a torn record.
func (s *CSVSink) Append(ctx context.Context, rec *domain.TxRecord) error {
	row := csvRow(rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(row); err != nil {
		metrics.SinkErrors.WithLabelValues("csv").Inc()
		return fmt.Errorf("failed to append csv row: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		metrics.SinkErrors.WithLabelValues("csv").Inc()
		return fmt.Errorf("failed to flush csv row: %w", err)
	}
	metrics.SinkWrites.WithLabelValues("csv").Inc()
	return nil
}

func (s *CSVSink) AppendBatch(ctx context.Context, recs []*domain.TxRecord) error {
	for _, rec := range recs {
		if err := s.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func csvRow(rec *domain.TxRecord) []string {
	timestamp := ""
	if !rec.Timestamp.IsZero() {
		timestamp = rec.Timestamp.UTC().Format(time.RFC3339)
	}

	// Empty means unknown; a known zero fee is rendered as "0".
	feeBps := ""
	if rec.Match.FeeBps != nil {
		feeBps = strconv.Itoa(*rec.Match.FeeBps)
	}

	rules := make([]string, 0, len(rec.Match.Hits))
	for _, r := range rec.Match.Rules() {
		rules = append(rules, string(r))
	}

	amounts := make([]string, 0, len(rec.Amounts))
	for _, a := range rec.Amounts {
		amounts = append(amounts, a.Quantity+" "+a.Asset)
	}

	return []string{
		rec.ID,
		string(rec.Protocol),
		timestamp,
		rec.CapturedAt.UTC().Format(time.RFC3339),
		strconv.FormatBool(rec.Match.Matched),
		string(rec.Match.Rule),
		strings.Join(rules, ";"),
		feeBps,
		strings.Join(rec.Participants, ";"),
		strings.Join(amounts, ";"),
		rec.AppCode,
		rec.Memo,
		strconv.FormatBool(rec.LowConfidence),
	}
}
