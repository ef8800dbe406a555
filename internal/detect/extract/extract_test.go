package extract

import (
	"strings"
	"testing"
	"time"

	"affwatch/internal/core/domain"
)

const (
	testHash = "0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
	testAddr = "0x90a48d5cf7343b08da12e067680b4c6dbfe551be"
)

func TestExtractIDPriority(t *testing.T) {
	e := New()

	tests := []struct {
		name string
		item domain.CandidateItem
		want string
	}{
		{
			name: "structured key wins over text",
			item: domain.CandidateItem{
				Fields: map[string]any{"txID": "ABC123"},
				Text:   testHash,
			},
			want: "ABC123",
		},
		{
			name: "title attribute wins over truncated text",
			item: domain.CandidateItem{
				Fields: map[string]any{"title": testHash},
				Text:   testHash[:10] + "...",
			},
			want: testHash,
		},
		{
			name: "prefixed hash from text",
			item: domain.CandidateItem{Text: "swap tx " + testHash + " completed"},
			want: testHash,
		},
		{
			name: "bare hash from text",
			item: domain.CandidateItem{Text: "tx " + testHash[2:] + " done"},
			want: testHash[2:],
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := e.Extract(tt.item)
			if !ok {
				t.Fatalf("expected extraction to succeed")
			}
			if rec.ID != tt.want {
				t.Errorf("ID = %q, want %q", rec.ID, tt.want)
			}
		})
	}
}

func TestExtractMissWhenNoID(t *testing.T) {
	e := New()
	rec, ok := e.Extract(domain.CandidateItem{
		Fields: map[string]any{"from": testAddr},
		Text:   "no transaction identifier anywhere",
	})
	if ok {
		t.Fatalf("expected miss, got record %+v", rec)
	}
}

func TestExtractParticipants(t *testing.T) {
	e := New()
	other := "0x1111111111111111111111111111111111111111"

	t.Run("structured roles are trusted", func(t *testing.T) {
		rec, ok := e.Extract(domain.CandidateItem{
			Fields: map[string]any{
				"txID": "t1",
				"from": strings.ToUpper(testAddr),
				"to":   other,
			},
		})
		if !ok {
			t.Fatal("extraction failed")
		}
		if len(rec.Participants) != 2 {
			t.Fatalf("participants = %v, want 2 entries", rec.Participants)
		}
		if rec.Participants[0] != testAddr {
			t.Errorf("hex address not lowercased: %q", rec.Participants[0])
		}
		if rec.LowConfidence {
			t.Error("structured roles must not be low confidence")
		}
	})

	t.Run("address list field", func(t *testing.T) {
		rec, ok := e.Extract(domain.CandidateItem{
			Fields: map[string]any{
				"txID":      "t2",
				"addresses": []string{"thor1abc", "thor1abc", "bc1qxyz"},
			},
		})
		if !ok {
			t.Fatal("extraction failed")
		}
		if len(rec.Participants) != 2 {
			t.Errorf("participants = %v, want deduped pair", rec.Participants)
		}
	})

	t.Run("single text fallback keeps confidence", func(t *testing.T) {
		rec, ok := e.Extract(domain.CandidateItem{
			Text: testHash + " by " + testAddr,
		})
		if !ok {
			t.Fatal("extraction failed")
		}
		if len(rec.Participants) != 1 || rec.Participants[0] != testAddr {
			t.Errorf("participants = %v, want [%s]", rec.Participants, testAddr)
		}
		if rec.LowConfidence {
			t.Error("single fallback address should not be low confidence")
		}
	})

	t.Run("ambiguous text fallback is low confidence", func(t *testing.T) {
		rec, ok := e.Extract(domain.CandidateItem{
			Text: testHash + " " + testAddr + " -> " + other,
		})
		if !ok {
			t.Fatal("extraction failed")
		}
		if len(rec.Participants) != 2 {
			t.Fatalf("participants = %v, want both fallback addresses", rec.Participants)
		}
		if !rec.LowConfidence {
			t.Error("two distinct fallback addresses must set low confidence")
		}
	})

	t.Run("hash is never consumed as an address", func(t *testing.T) {
		rec, ok := e.Extract(domain.CandidateItem{Text: testHash})
		if !ok {
			t.Fatal("extraction failed")
		}
		if len(rec.Participants) != 0 {
			t.Errorf("participants = %v, want none from a lone hash", rec.Participants)
		}
	})
}

func TestExtractAmounts(t *testing.T) {
	e := New()

	t.Run("typed list wins", func(t *testing.T) {
		rec, _ := e.Extract(domain.CandidateItem{
			Fields: map[string]any{
				"txID":    "t1",
				"amounts": []domain.Amount{{Asset: "BTC.BTC", Quantity: "12345"}},
				"amount":  "9",
				"asset":   "ETH",
			},
		})
		if len(rec.Amounts) != 1 || rec.Amounts[0].Asset != "BTC.BTC" {
			t.Errorf("amounts = %v, want typed list", rec.Amounts)
		}
	})

	t.Run("key pairs", func(t *testing.T) {
		rec, _ := e.Extract(domain.CandidateItem{
			Fields: map[string]any{
				"txID":       "t2",
				"sellAmount": "1000000",
				"sellToken":  "USDC",
				"buyAmount":  "0.5",
				"buyToken":   "WETH",
			},
		})
		if len(rec.Amounts) != 2 {
			t.Fatalf("amounts = %v, want 2 pairs", rec.Amounts)
		}
	})

	t.Run("text fallback", func(t *testing.T) {
		rec, _ := e.Extract(domain.CandidateItem{
			Text: testHash + " swapped 1.5 ETH for 2900.12 USDC",
		})
		if len(rec.Amounts) != 2 {
			t.Fatalf("amounts = %v, want 2 regex matches", rec.Amounts)
		}
		if rec.Amounts[0].Quantity != "1.5" || rec.Amounts[0].Asset != "ETH" {
			t.Errorf("first amount = %+v", rec.Amounts[0])
		}
	})
}

func TestParseTimestamp(t *testing.T) {
	ref := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339", "2026-03-14T09:26:53Z", ref},
		{"unix seconds", "1773480413", time.Unix(1773480413, 0).UTC()},
		{"unix millis", "1773480413000", time.Unix(1773480413, 0).UTC()},
		{"unix nanos", "1773480413000000000", time.Unix(1773480413, 0).UTC()},
		{"garbage", "not-a-time", time.Time{}},
		{"empty", "", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTimestamp(tt.raw)
			if !got.Equal(tt.want) {
				t.Errorf("parseTimestamp(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestExtractTimestampFallsBackToCaptureTime(t *testing.T) {
	e := New()
	captured := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec, ok := e.Extract(domain.CandidateItem{
		Fields:     map[string]any{"txID": "t1"},
		CapturedAt: captured,
	})
	if !ok {
		t.Fatal("extraction failed")
	}
	if !rec.Timestamp.IsZero() {
		t.Errorf("Timestamp = %v, want zero when source had none", rec.Timestamp)
	}
	if !rec.EventTime().Equal(captured) {
		t.Errorf("EventTime() = %v, want capture time %v", rec.EventTime(), captured)
	}
}
