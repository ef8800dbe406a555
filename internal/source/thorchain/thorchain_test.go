package thorchain

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/fetch"
	"affwatch/internal/source"
)

var (
	txIn  = strings.Repeat("E2", 32)
	txOld = strings.Repeat("B4", 32)
)

func actionJSON(date, txID, memo string) string {
	return fmt.Sprintf(`{
		"date": %q,
		"height": "123",
		"type": "swap",
		"status": "success",
		"in": [{"txID": %q, "address": "thor1sender", "coins": [{"amount": "150000000", "asset": "BTC.BTC"}]}],
		"out": [{"txID": "", "address": "0x52ade9146766e4a5fb135c0000000000abcdef12", "coins": [{"amount": "2500000000", "asset": "ETH.ETH"}]}],
		"metadata": {"swap": {"memo": %q, "affiliateAddress": "ss", "affiliateFee": "55"}}
	}`, date, txID, memo)
}

func testClient(name string) *fetch.Client {
	return fetch.NewClient(name, fetch.Config{
		Timeout: 2 * time.Second,
		Retry:   fetch.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond},
	})
}

func collect(items *[]domain.CandidateItem) source.EmitFunc {
	return func(ctx context.Context, item domain.CandidateItem) error {
		*items = append(*items, item)
		return nil
	}
}

func TestPollEmitsNewActions(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if got := r.URL.Query().Get("affiliate"); got != "ss" {
			t.Errorf("affiliate param = %q, want ss", got)
		}
		if r.URL.Query().Get("offset") != "0" {
			w.Write([]byte(`{"actions":[],"count":"2"}`))
			return
		}
		page := `{"actions":[` +
			actionJSON("1700000002000000000", txIn, "=:ETH.ETH:0xdest:0/1/0:ss:55") + `,` +
			actionJSON("1700000001000000000", txOld, "") +
			`],"count":"2"}`
		w.Write([]byte(page))
	}))
	defer server.Close()

	s := New(source.Options{
		Name:      "midgard",
		URL:       server.URL + "/v2/actions",
		Affiliate: "ss",
		PageSize:  50,
		MaxPages:  3,
	}, testClient("midgard"), nil)

	var items []domain.CandidateItem
	pos, err := s.Poll(context.Background(), "", collect(&items))
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("emitted %d items, want 2", len(items))
	}
	if pos != "1700000002000000000" {
		t.Errorf("position = %q, want newest date", pos)
	}
	// Short page, no second request.
	if requests != 1 {
		t.Errorf("server saw %d requests, want 1", requests)
	}

	first := items[0]
	if first.Protocol != domain.ProtocolTHORChain || first.Source != "midgard" {
		t.Errorf("item identity = %s/%s", first.Protocol, first.Source)
	}
	if got := first.Fields["txID"]; got != txIn {
		t.Errorf("txID = %v", got)
	}
	if got := first.Fields["memo"]; got != "=:ETH.ETH:0xdest:0/1/0:ss:55" {
		t.Errorf("memo = %v", got)
	}
	addrs, _ := first.Fields["addresses"].([]string)
	if len(addrs) != 3 || addrs[0] != "thor1sender" || addrs[2] != "ss" {
		t.Errorf("addresses = %v", addrs)
	}
	amts, _ := first.Fields["amounts"].([]domain.Amount)
	if len(amts) != 2 || amts[0].Asset != "BTC.BTC" || amts[0].Quantity != "150000000" {
		t.Errorf("amounts = %v", amts)
	}
	if len(first.Raw) == 0 {
		t.Error("raw payload not preserved")
	}
}

func TestPollStopsAtKnownPosition(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := `{"actions":[` +
			actionJSON("1700000002000000000", txIn, "") + `,` +
			actionJSON("1700000001000000000", txOld, "") +
			`],"count":"2"}`
		w.Write([]byte(page))
	}))
	defer server.Close()

	s := New(source.Options{
		Name:     "midgard",
		URL:      server.URL,
		PageSize: 2,
		MaxPages: 5,
	}, testClient("midgard"), nil)

	var items []domain.CandidateItem
	pos, err := s.Poll(context.Background(), "1700000001000000000", collect(&items))
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("emitted %d items, want only the newer action", len(items))
	}
	if got := items[0].Fields["txID"]; got != txIn {
		t.Errorf("emitted wrong action: %v", got)
	}
	if pos != "1700000002000000000" {
		t.Errorf("position = %q", pos)
	}
}

func TestPollPagesThroughFullPages(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		switch r.URL.Query().Get("offset") {
		case "0":
			w.Write([]byte(`{"actions":[` + actionJSON("1700000003000000000", txIn, "") + `],"count":"2"}`))
		case "1":
			w.Write([]byte(`{"actions":[` + actionJSON("1700000002000000000", txOld, "") + `],"count":"2"}`))
		default:
			w.Write([]byte(`{"actions":[],"count":"2"}`))
		}
	}))
	defer server.Close()

	s := New(source.Options{
		Name:     "midgard",
		URL:      server.URL,
		PageSize: 1,
		MaxPages: 5,
	}, testClient("midgard"), nil)

	var items []domain.CandidateItem
	pos, err := s.Poll(context.Background(), "", collect(&items))
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if len(items) != 2 {
		t.Errorf("emitted %d items, want 2", len(items))
	}
	if requests != 3 {
		t.Errorf("server saw %d requests, want 3", requests)
	}
	if pos != "1700000003000000000" {
		t.Errorf("position = %q", pos)
	}
}

func TestNewerTimestamp(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"2", "1", true},
		{"1", "2", false},
		{"1", "1", false},
		{"1700000001000000000", "", true},
		{"", "1", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := newerTimestamp(tt.a, tt.b); got != tt.want {
			t.Errorf("newerTimestamp(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
