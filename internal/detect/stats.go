package detect

import (
	"sync"
	"sync/atomic"

	"affwatch/internal/core/domain"
)

// Stats tracks pipeline counters. All methods are safe for concurrent use.
type Stats struct {
	scanned       atomic.Int64
	misses        atomic.Int64
	extracted     atomic.Int64
	duplicates    atomic.Int64
	matched       atomic.Int64
	lowConfidence atomic.Int64
	written       atomic.Int64
	sourceErrors  atomic.Int64

	mu            sync.Mutex
	matchedByRule map[domain.MatchRule]int64
}

func (s *Stats) countRule(rule domain.MatchRule) {
	s.mu.Lock()
	if s.matchedByRule == nil {
		s.matchedByRule = make(map[domain.MatchRule]int64)
	}
	s.matchedByRule[rule]++
	s.mu.Unlock()
}

// Summary is a point-in-time snapshot of pipeline counters. Matched counts
// records; MatchedByRule counts rule fires, so its sum can exceed Matched
// when several rules hit the same record.
type Summary struct {
	Scanned          int64            `json:"scanned"`
	ExtractionMisses int64            `json:"extraction_misses"`
	Extracted        int64            `json:"extracted"`
	Duplicates       int64            `json:"duplicates"`
	Matched          int64            `json:"matched"`
	LowConfidence    int64            `json:"low_confidence"`
	Written          int64            `json:"written"`
	SourceErrors     int64            `json:"source_errors"`
	MatchedByRule    map[string]int64 `json:"matched_by_rule,omitempty"`
}

func (s *Stats) snapshot() Summary {
	out := Summary{
		Scanned:          s.scanned.Load(),
		ExtractionMisses: s.misses.Load(),
		Extracted:        s.extracted.Load(),
		Duplicates:       s.duplicates.Load(),
		Matched:          s.matched.Load(),
		LowConfidence:    s.lowConfidence.Load(),
		Written:          s.written.Load(),
		SourceErrors:     s.sourceErrors.Load(),
	}

	s.mu.Lock()
	if len(s.matchedByRule) > 0 {
		out.MatchedByRule = make(map[string]int64, len(s.matchedByRule))
		for rule, n := range s.matchedByRule {
			out.MatchedByRule[string(rule)] = n
		}
	}
	s.mu.Unlock()

	return out
}
