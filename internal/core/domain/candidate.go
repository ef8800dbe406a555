package domain

import (
	"encoding/json"
	"time"
)

// CandidateItem is one raw item pulled from a source before extraction.
// Fields holds whatever structure the source could preserve (JSON keys,
// HTML attribute values); Text is the flattened free text for regex
// fallbacks; Raw is the untouched payload kept for audit.
type CandidateItem struct {
	Protocol   Protocol
	Source     string
	Fields     map[string]any
	Text       string
	Raw        json.RawMessage
	CapturedAt time.Time
}
