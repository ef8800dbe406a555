package detect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/detect/dedup"
	"affwatch/internal/detect/extract"
	"affwatch/internal/detect/match"
)

const affiliateAddr = "0x90a48d5cf7343b08da12e067680b4c6dbfe551be"

type collectingSink struct {
	mu   sync.Mutex
	recs []*domain.TxRecord
	fail bool
}

func (s *collectingSink) Append(ctx context.Context, rec *domain.TxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *collectingSink) AppendBatch(ctx context.Context, recs []*domain.TxRecord) error {
	for _, rec := range recs {
		if err := s.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *collectingSink) Close() error { return nil }

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func newTestDetector(out *collectingSink, cfg Config) *Detector {
	matcher := match.New(match.Fingerprints{
		Addresses: map[domain.Protocol][]string{
			domain.ProtocolZeroX: {affiliateAddr},
		},
		MemoCodes: map[domain.Protocol][]string{
			domain.ProtocolTHORChain: {"ss"},
		},
	})
	return New(extract.New(), matcher, dedup.New(nil, nil), out, nil, cfg)
}

func zeroxItem(hash string) domain.CandidateItem {
	return domain.CandidateItem{
		Protocol: domain.ProtocolZeroX,
		Source:   "zerox",
		Fields: map[string]any{
			"transactionHash": hash,
			"taker":           affiliateAddr,
		},
		CapturedAt: time.Now(),
	}
}

func TestProcessMatchedRecordReachesSink(t *testing.T) {
	out := &collectingSink{}
	d := newTestDetector(out, Config{})

	item := zeroxItem("0x" + repeatHex("a1", 32))
	if err := d.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if out.count() != 1 {
		t.Fatalf("sink got %d records, want 1", out.count())
	}
	rec := out.recs[0]
	if !rec.Match.Matched || rec.Match.Rule != domain.MatchRuleAddress {
		t.Errorf("match = %+v, want address rule", rec.Match)
	}

	sum := d.Summary()
	if sum.Scanned != 1 || sum.Extracted != 1 || sum.Matched != 1 || sum.Written != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.MatchedByRule["address"] != 1 {
		t.Errorf("matched by rule = %v", sum.MatchedByRule)
	}
}

func TestProcessUnmatchedSkippedUnlessRecordAll(t *testing.T) {
	item := domain.CandidateItem{
		Protocol: domain.ProtocolZeroX,
		Source:   "zerox",
		Fields: map[string]any{
			"transactionHash": "0x" + repeatHex("b2", 32),
			"taker":           "0x1111111111111111111111111111111111111111",
		},
		CapturedAt: time.Now(),
	}

	out := &collectingSink{}
	d := newTestDetector(out, Config{})
	if err := d.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.count() != 0 {
		t.Errorf("unmatched record written without record_all")
	}

	all := &collectingSink{}
	da := newTestDetector(all, Config{RecordAll: true})
	if err := da.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if all.count() != 1 {
		t.Fatalf("record_all sink got %d records, want 1", all.count())
	}
	if all.recs[0].Match.Matched {
		t.Errorf("record unexpectedly matched: %+v", all.recs[0].Match)
	}
}

func TestProcessDuplicateWrittenOnce(t *testing.T) {
	out := &collectingSink{}
	d := newTestDetector(out, Config{})
	ctx := context.Background()

	item := zeroxItem("0x" + repeatHex("c3", 32))
	for i := 0; i < 3; i++ {
		if err := d.Process(ctx, item); err != nil {
			t.Fatalf("Process #%d: %v", i, err)
		}
	}

	if out.count() != 1 {
		t.Errorf("sink got %d records, want 1", out.count())
	}
	sum := d.Summary()
	if sum.Duplicates != 2 {
		t.Errorf("duplicates = %d, want 2", sum.Duplicates)
	}
	if sum.Scanned != 3 {
		t.Errorf("scanned = %d, want 3", sum.Scanned)
	}
}

func TestProcessExtractionMissIsNotAnError(t *testing.T) {
	out := &collectingSink{}
	d := newTestDetector(out, Config{RecordAll: true})

	item := domain.CandidateItem{
		Protocol:   domain.ProtocolTHORChain,
		Source:     "midgard",
		Text:       "no transaction reference here",
		CapturedAt: time.Now(),
	}
	if err := d.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if out.count() != 0 {
		t.Errorf("sink got %d records, want 0", out.count())
	}
	if sum := d.Summary(); sum.ExtractionMisses != 1 || sum.Extracted != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestProcessMemoMatchCarriesFee(t *testing.T) {
	out := &collectingSink{}
	d := newTestDetector(out, Config{})

	item := domain.CandidateItem{
		Protocol: domain.ProtocolTHORChain,
		Source:   "midgard",
		Fields: map[string]any{
			"txID": repeatHex("d4", 32),
			"memo": "=:ETH.ETH:0x1111111111111111111111111111111111111111:0/1/0:ss:55",
		},
		CapturedAt: time.Now(),
	}
	if err := d.Process(context.Background(), item); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if out.count() != 1 {
		t.Fatalf("sink got %d records, want 1", out.count())
	}
	rec := out.recs[0]
	if rec.Match.Rule != domain.MatchRuleMemo {
		t.Errorf("rule = %s, want memo", rec.Match.Rule)
	}
	if rec.Match.FeeBps == nil || *rec.Match.FeeBps != 55 {
		t.Errorf("fee bps = %v, want 55", rec.Match.FeeBps)
	}
}

func TestProcessRecordBudgetClosesDone(t *testing.T) {
	out := &collectingSink{}
	d := newTestDetector(out, Config{MaxRecords: 2})
	ctx := context.Background()

	select {
	case <-d.Done():
		t.Fatal("Done closed before any record was written")
	default:
	}

	for _, hash := range []string{repeatHex("e5", 32), repeatHex("f6", 32)} {
		if err := d.Process(ctx, zeroxItem("0x"+hash)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after reaching the record budget")
	}
}

func TestProcessSinkFailureSurfaces(t *testing.T) {
	out := &collectingSink{fail: true}
	d := newTestDetector(out, Config{})

	err := d.Process(context.Background(), zeroxItem("0x"+repeatHex("a7", 32)))
	if err == nil {
		t.Fatal("expected sink failure to surface")
	}
}

func TestRecordSourceError(t *testing.T) {
	d := newTestDetector(&collectingSink{}, Config{})
	d.RecordSourceError(domain.ProtocolChainflip, "unavailable")
	d.RecordSourceError(domain.ProtocolChainflip, "decode")

	if sum := d.Summary(); sum.SourceErrors != 2 {
		t.Errorf("source errors = %d, want 2", sum.SourceErrors)
	}
}

func repeatHex(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}
