package portals

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/fetch"
	"affwatch/internal/source"
)

func testClient() *fetch.Client {
	return fetch.NewClient("portals", fetch.Config{
		Timeout: 2 * time.Second,
		Retry:   fetch.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond},
	})
}

func TestPollEmitsNewTransactions(t *testing.T) {
	hashNew := "0x" + strings.Repeat("4d", 32)
	hashOld := "0x" + strings.Repeat("5e", 32)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("partner"); got != "shapeshift" {
			t.Errorf("partner param = %q", got)
		}
		w.Write([]byte(`{"more": false, "page": 0, "transactions":[` +
			`{"hash": "` + hashNew + `", "sender": "0x7890abcdef7890abcdef7890abcdef7890abcdef",
			  "partner": "shapeshift", "inputToken": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
			  "inputAmount": "250000000", "blockTimestamp": 1700000200},` +
			`{"hash": "` + hashOld + `", "sender": "0x7890abcdef7890abcdef7890abcdef7890abcdef",
			  "partner": "shapeshift", "blockTimestamp": 1700000100}` +
			`]}`))
	}))
	defer server.Close()

	s := New(source.Options{
		Name:      "portals",
		URL:       server.URL,
		Affiliate: "shapeshift",
		PageSize:  10,
		MaxPages:  3,
	}, testClient(), nil)

	var items []domain.CandidateItem
	emit := func(ctx context.Context, item domain.CandidateItem) error {
		items = append(items, item)
		return nil
	}

	pos, err := s.Poll(context.Background(), "1700000100", emit)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("emitted %d items, want only the newer transaction", len(items))
	}
	if pos != "1700000200" {
		t.Errorf("position = %q, want 1700000200", pos)
	}

	item := items[0]
	if item.Protocol != domain.ProtocolPortals {
		t.Errorf("protocol = %s", item.Protocol)
	}
	if got := item.Fields["hash"]; got != hashNew {
		t.Errorf("hash = %v", got)
	}
	if got := item.Fields["partner"]; got != "shapeshift" {
		t.Errorf("partner = %v", got)
	}
	if got := item.Fields["blockTimestamp"]; got != "1700000200" {
		t.Errorf("blockTimestamp = %v", got)
	}
}

func TestPollFollowsMoreFlag(t *testing.T) {
	var pages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		hash := "0x" + strings.Repeat("6f", 31) + page + page
		more := "true"
		if page == "1" {
			more = "false"
		}
		w.Write([]byte(`{"more": ` + more + `, "transactions":[` +
			`{"hash": "` + hash + `", "blockTimestamp": 170000030` + page + `}]}`))
	}))
	defer server.Close()

	s := New(source.Options{Name: "portals", URL: server.URL, PageSize: 1, MaxPages: 5}, testClient(), nil)

	var count int
	if _, err := s.Poll(context.Background(), "", func(ctx context.Context, item domain.CandidateItem) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if count != 2 {
		t.Errorf("emitted %d items, want 2", count)
	}
	if len(pages) != 2 || pages[0] != "0" || pages[1] != "1" {
		t.Errorf("page sequence = %v", pages)
	}
}
