package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"affwatch/internal/core/domain"
)

func TestJSONLSinkAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	s, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}

	fee := 55
	recs := []*domain.TxRecord{testRecord("tx1", &fee), testRecord("tx2", nil)}
	recs[1].Raw = json.RawMessage(`{"source":"payload"}`)
	if err := s.AppendBatch(context.Background(), recs); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines []domain.TxRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec domain.TxRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(lines)+1, err)
		}
		lines = append(lines, rec)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].ID != "tx1" || lines[1].ID != "tx2" {
		t.Errorf("ids = %q, %q", lines[0].ID, lines[1].ID)
	}
	if lines[0].Match.FeeBps == nil || *lines[0].Match.FeeBps != 55 {
		t.Errorf("tx1 fee_bps = %v, want 55", lines[0].Match.FeeBps)
	}
	if lines[1].Match.FeeBps != nil {
		t.Errorf("tx2 fee_bps = %v, want null", lines[1].Match.FeeBps)
	}
	if string(lines[1].Raw) != `{"source":"payload"}` {
		t.Errorf("raw payload not preserved: %s", lines[1].Raw)
	}
}

func TestJSONLSinkAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")

	s, err := NewJSONLSink(path)
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}
	if err := s.Append(context.Background(), testRecord("tx1", nil)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	s.Close()

	s, err = NewJSONLSink(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := s.Append(context.Background(), testRecord("tx2", nil)); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	s.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := len(splitLines(data)); n != 2 {
		t.Errorf("got %d lines after reopen, want 2", n)
	}
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				out = append(out, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}
