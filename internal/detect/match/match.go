// Package match classifies transaction records against configured affiliate
// fingerprints. Three rules run in a fixed order: participant address
// equality, memo suffix, app-code substring. The first hit names the
// record's rule; every hit is still recorded. Classification is monotonic:
// Apply can set Matched but never clears it, so re-running a record through
// the matcher is safe.
package match

import (
	"strings"

	"affwatch/internal/core/domain"
)

// Fingerprints is the static affiliate configuration, keyed by protocol.
type Fingerprints struct {
	Addresses map[domain.Protocol][]string
	MemoCodes map[domain.Protocol][]string
	Partners  map[domain.Protocol][]string
}

// Matcher evaluates records against fingerprints. Safe for concurrent use;
// address sets may grow at runtime as rows are loaded from storage.
type Matcher struct {
	addresses map[domain.Protocol]*AddressSet
	memoCodes map[domain.Protocol][]string
	partners  map[domain.Protocol][]string
}

func New(fp Fingerprints) *Matcher {
	m := &Matcher{
		addresses: make(map[domain.Protocol]*AddressSet),
		memoCodes: make(map[domain.Protocol][]string),
		partners:  make(map[domain.Protocol][]string),
	}
	for p, addrs := range fp.Addresses {
		m.addresses[p] = NewAddressSet(addrs...)
	}
	for p, codes := range fp.MemoCodes {
		m.memoCodes[p] = codes
	}
	for p, partners := range fp.Partners {
		m.partners[p] = partners
	}
	return m
}

// AddAddresses merges additional affiliate addresses for a protocol, used
// to fold stored rows into the static config at startup.
func (m *Matcher) AddAddresses(protocol domain.Protocol, addrs []string) {
	set, ok := m.addresses[protocol]
	if !ok {
		m.addresses[protocol] = NewAddressSet(addrs...)
		return
	}
	set.AddBatch(addrs)
}

// AddressCount returns the number of configured addresses for a protocol.
func (m *Matcher) AddressCount(protocol domain.Protocol) int {
	if set, ok := m.addresses[protocol]; ok {
		return set.Size()
	}
	return 0
}

// Apply classifies rec in place. Hits are deduplicated so applying twice
// yields the same result, and an already matched record never loses its
// match, its rule or a known fee.
func (m *Matcher) Apply(rec *domain.TxRecord) {
	if rec == nil {
		return
	}
	m.applyAddresses(rec)
	m.applyMemo(rec)
	m.applyAppCode(rec)
}

func (m *Matcher) applyAddresses(rec *domain.TxRecord) {
	set, ok := m.addresses[rec.Protocol]
	if !ok || set.Size() == 0 {
		return
	}
	for _, p := range rec.Participants {
		if set.Contains(p) {
			hit(rec, domain.MatchRuleAddress, strings.ToLower(p))
		}
	}
}

func (m *Matcher) applyMemo(rec *domain.TxRecord) {
	if rec.Memo == "" {
		return
	}
	for _, code := range m.memoCodes[rec.Protocol] {
		matched, feeBps, outOfRange := ParseMemoSuffix(rec.Memo, code)
		if !matched {
			continue
		}
		hit(rec, domain.MatchRuleMemo, code)
		if feeBps != nil && rec.Match.FeeBps == nil {
			rec.Match.FeeBps = feeBps
		}
		if outOfRange {
			rec.LowConfidence = true
		}
	}
}

func (m *Matcher) applyAppCode(rec *domain.TxRecord) {
	if rec.AppCode == "" {
		return
	}
	lower := strings.ToLower(rec.AppCode)
	for _, partner := range m.partners[rec.Protocol] {
		if strings.Contains(lower, strings.ToLower(partner)) {
			hit(rec, domain.MatchRuleAppCode, partner)
		}
	}
}

// hit marks a rule firing. Matched only ever flips to true, the first rule
// to fire names the record, and duplicate hits are dropped.
func hit(rec *domain.TxRecord, rule domain.MatchRule, value string) {
	rec.Match.Matched = true
	if rec.Match.Rule == "" {
		rec.Match.Rule = rule
	}
	for _, h := range rec.Match.Hits {
		if h.Rule == rule && h.Value == value {
			return
		}
	}
	rec.Match.Hits = append(rec.Match.Hits, domain.RuleHit{Rule: rule, Value: value})
}
