package domain

import (
	"encoding/json"
	"time"
)

// TxRecord represents one observed transaction after extraction
type TxRecord struct {
	ID            string          `json:"id"`
	Protocol      Protocol        `json:"protocol"`
	Timestamp     time.Time       `json:"timestamp"`
	CapturedAt    time.Time       `json:"captured_at"`
	Participants  []string        `json:"participants,omitempty"`
	Amounts       []Amount        `json:"amounts,omitempty"`
	Memo          string          `json:"memo,omitempty"`
	AppCode       string          `json:"app_code,omitempty"`
	Match         MatchResult     `json:"match"`
	LowConfidence bool            `json:"low_confidence"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Amount is a display amount paired with its asset symbol. Quantities stay
// strings end to end; precision questions belong to downstream analysis.
type Amount struct {
	Asset    string `json:"asset"`
	Quantity string `json:"quantity"`
}

// MatchResult carries the affiliate classification of a record.
// FeeBps distinguishes "unknown" (nil) from "known zero" (pointer to 0).
type MatchResult struct {
	Matched bool      `json:"matched"`
	Rule    MatchRule `json:"rule,omitempty"`
	Hits    []RuleHit `json:"hits,omitempty"`
	FeeBps  *int      `json:"fee_bps"`
}

// RuleHit records a single rule firing, with the value that triggered it.
type RuleHit struct {
	Rule  MatchRule `json:"rule"`
	Value string    `json:"value"`
}

type MatchRule string

const (
	MatchRuleAddress MatchRule = "address"
	MatchRuleMemo    MatchRule = "memo"
	MatchRuleAppCode MatchRule = "appcode"
)

// EventTime returns the event timestamp, falling back to the capture time
// when the source did not carry one.
func (r *TxRecord) EventTime() time.Time {
	if r.Timestamp.IsZero() {
		return r.CapturedAt
	}
	return r.Timestamp
}

// Rules returns the distinct rules that hit, in evaluation order.
func (m MatchResult) Rules() []MatchRule {
	seen := make(map[MatchRule]struct{}, len(m.Hits))
	out := make([]MatchRule, 0, len(m.Hits))
	for _, h := range m.Hits {
		if _, ok := seen[h.Rule]; ok {
			continue
		}
		seen[h.Rule] = struct{}{}
		out = append(out, h.Rule)
	}
	return out
}
