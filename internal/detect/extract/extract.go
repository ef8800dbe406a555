// Package extract turns semi-structured candidate items into transaction
// records. Every field is resolved by ordered-priority probing: structured
// fields first, then full values preserved in element attributes, then regex
// scans over free text. Shape is the only validation performed; checksum
// verification is out of scope. A candidate with no recoverable transaction
// id is a miss, not an error, and callers are expected to count misses.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"affwatch/internal/core/domain"
)

var (
	reHexHash    = regexp.MustCompile(`0x[a-fA-F0-9]{64}`)
	reBareHash   = regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)
	reHexAddress = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)
	reAmount     = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*([A-Z]{2,8})\b`)
	reDigits     = regexp.MustCompile(`^\d+$`)
)

// Structured key probe order, most specific first. JSON feeds use the left
// end of these lists; the tail covers looser schemas seen in push feeds.
var (
	idKeys = []string{
		"txID", "tx_hash", "txHash", "transactionHash", "hash",
		"orderUid", "order_uid", "swapId", "swap_id", "id",
	}
	roleKeys = []string{
		"from", "to", "sender", "recipient", "address", "broker",
		"affiliate", "affiliateAddress", "maker", "taker", "owner",
		"account", "user", "destination_address",
	}
	memoKeys    = []string{"memo", "swap_memo", "swapMemo"}
	appCodeKeys = []string{"appCode", "app_code", "app", "partner", "referrer", "integrator"}
	timeKeys    = []string{
		"timestamp", "date", "time", "block_timestamp", "blockTimestamp",
		"executedAt", "createdAt", "created_at",
	}
	amountKeyPairs = [][2]string{
		{"amount", "asset"},
		{"in_amount", "in_asset"},
		{"out_amount", "out_asset"},
		{"sellAmount", "sellToken"},
		{"buyAmount", "buyToken"},
		{"inputAmount", "inputToken"},
		{"outputAmount", "outputToken"},
		{"deposit_amount", "source_asset"},
		{"value", "symbol"},
	}
)

const maxTextAmounts = 8

// Extractor resolves candidate items into records. The zero value is not
// usable; construct with New.
type Extractor struct {
	id      FieldStrategy
	memo    FieldStrategy
	appCode FieldStrategy
	when    FieldStrategy
}

func New() *Extractor {
	return &Extractor{
		id: firstOf(
			fieldKeys(idKeys...),
			attrShaped(reHexHash),
			attrShaped(reBareHash),
			textShaped(reHexHash),
			textShaped(reBareHash),
		),
		memo:    fieldKeys(memoKeys...),
		appCode: fieldKeys(appCodeKeys...),
		when:    fieldKeys(timeKeys...),
	}
}

// Extract builds a transaction record from one candidate item. ok is false
// when no transaction id can be recovered; nothing else about the item is
// required to be present.
func (e *Extractor) Extract(item domain.CandidateItem) (*domain.TxRecord, bool) {
	id, ok := e.id(item)
	if !ok {
		return nil, false
	}

	rec := &domain.TxRecord{
		ID:         id,
		Protocol:   item.Protocol,
		CapturedAt: item.CapturedAt,
		Raw:        item.Raw,
	}
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = time.Now().UTC()
	}

	rec.Participants, rec.LowConfidence = participants(item)
	rec.Amounts = amounts(item)
	if memo, ok := e.memo(item); ok {
		rec.Memo = memo
	}
	if code, ok := e.appCode(item); ok {
		rec.AppCode = code
	}
	if raw, ok := e.when(item); ok {
		rec.Timestamp = parseTimestamp(raw)
	}
	return rec, true
}

// participants collects every party the item names. Structured role keys
// and address lists are trusted; when none exist the free text is scanned
// for hex addresses, and two or more distinct fallback hits flag the record
// low confidence since text order does not say who is who.
func participants(item domain.CandidateItem) ([]string, bool) {
	var addrs []string
	for _, key := range roleKeys {
		if v, ok := coerce(item.Fields[key]); ok {
			addrs = append(addrs, v)
		}
	}
	for _, v := range appendCoerced(nil, item.Fields["addresses"]) {
		addrs = append(addrs, v)
	}
	if len(addrs) > 0 {
		return dedupeAddresses(addrs), false
	}

	for _, v := range attrValues(item) {
		if m := reHexAddress.FindString(v); m != "" {
			addrs = append(addrs, m)
		}
	}
	if len(addrs) > 0 {
		return dedupeAddresses(addrs), false
	}

	// Blank out transaction hashes first so the 40-hex scan cannot latch
	// onto the head of a 64-hex run.
	masked := reBareHash.ReplaceAllString(item.Text, " ")
	addrs = reHexAddress.FindAllString(masked, -1)
	deduped := dedupeAddresses(addrs)
	return deduped, len(deduped) >= 2
}

// dedupeAddresses normalizes and dedupes while keeping first-seen order.
// Hex forms are case-insensitive and stored lowercase; other encodings are
// preserved as given.
func dedupeAddresses(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = normalizeAddress(a)
		if a == "" {
			continue
		}
		key := strings.ToLower(a)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

func normalizeAddress(a string) string {
	a = strings.TrimSpace(a)
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") {
		return strings.ToLower(a)
	}
	return a
}

// amounts resolves display amounts: a typed list from the source wins, then
// structured key pairs, then a bounded regex scan over the free text.
func amounts(item domain.CandidateItem) []domain.Amount {
	if typed, ok := item.Fields["amounts"].([]domain.Amount); ok && len(typed) > 0 {
		return typed
	}

	var out []domain.Amount
	for _, pair := range amountKeyPairs {
		qty, qok := coerce(item.Fields[pair[0]])
		asset, aok := coerce(item.Fields[pair[1]])
		if qok && aok {
			out = append(out, domain.Amount{Asset: asset, Quantity: qty})
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, m := range reAmount.FindAllStringSubmatch(item.Text, maxTextAmounts) {
		out = append(out, domain.Amount{Asset: m[2], Quantity: m[1]})
	}
	return out
}

// parseTimestamp accepts the formats seen across feeds: RFC 3339 with or
// without sub-second precision, the bare datetime explorer tables render,
// and unix integers whose unit is inferred from magnitude (midgard reports
// nanoseconds, most REST feeds seconds or milliseconds). Unparseable input
// yields the zero time and the record falls back to its capture time.
func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	if reDigits.MatchString(raw) {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}
		}
		switch {
		case n >= 1e17:
			return time.Unix(0, n).UTC()
		case n >= 1e14:
			return time.UnixMicro(n).UTC()
		case n >= 1e11:
			return time.UnixMilli(n).UTC()
		default:
			return time.Unix(n, 0).UTC()
		}
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
