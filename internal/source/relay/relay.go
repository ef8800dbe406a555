// Package relay polls the Relay requests feed. Pages chain through
// continuation tokens within a pass; across passes the cursor is the newest
// request timestamp emitted, since continuation tokens expire.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/fetch"
	"affwatch/internal/source"
)

type requestsPage struct {
	Requests     []json.RawMessage `json:"requests"`
	Continuation string            `json:"continuation"`
}

type relayRequest struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Recipient string `json:"recipient"`
	CreatedAt string `json:"createdAt"`
	Data      struct {
		Referrer string `json:"referrer"`
		Currency string `json:"currency"`
		Amount   string `json:"amount"`
	} `json:"data"`
}

// Source polls the Relay requests feed.
type Source struct {
	name      string
	url       string
	pageSize  int
	maxPages  int
	pageDelay time.Duration
	client    *fetch.Client
	logger    *slog.Logger
}

// New creates a Relay requests source.
func New(opts source.Options, client *fetch.Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	return &Source{
		name:      opts.Name,
		url:       opts.URL,
		pageSize:  opts.PageSize,
		maxPages:  opts.MaxPages,
		pageDelay: opts.PageDelay,
		client:    client,
		logger:    logger,
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Protocol() domain.Protocol { return domain.ProtocolRelay }

// Poll pages through requests until it reaches the previous position, the
// end of the feed, or the page budget.
func (s *Source) Poll(ctx context.Context, position string, emit source.EmitFunc) (string, error) {
	maxSeen := position
	continuation := ""

	for page := 0; page < s.maxPages; page++ {
		pageURL, err := s.pageURL(continuation)
		if err != nil {
			return maxSeen, err
		}

		var pg requestsPage
		if err := s.client.GetJSON(ctx, pageURL, &pg); err != nil {
			return maxSeen, err
		}
		if len(pg.Requests) == 0 {
			break
		}

		caughtUp := false
		for _, raw := range pg.Requests {
			var req relayRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				s.logger.Warn("skipping malformed request", "source", s.name, "error", err)
				continue
			}
			if req.ID == "" {
				continue
			}
			if position != "" && req.CreatedAt != "" && !newerTime(req.CreatedAt, position) {
				caughtUp = true
				break
			}
			if newerTime(req.CreatedAt, maxSeen) {
				maxSeen = req.CreatedAt
			}
			if err := emit(ctx, s.candidate(req, raw)); err != nil {
				return maxSeen, err
			}
		}

		if caughtUp || pg.Continuation == "" {
			break
		}
		continuation = pg.Continuation

		if page < s.maxPages-1 {
			if err := source.Pause(ctx, s.pageDelay); err != nil {
				return maxSeen, err
			}
		}
	}

	return maxSeen, nil
}

func (s *Source) pageURL(continuation string) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("invalid relay url %q: %w", s.url, err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(s.pageSize))
	if continuation != "" {
		q.Set("continuation", continuation)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Source) candidate(req relayRequest, raw json.RawMessage) domain.CandidateItem {
	fields := map[string]any{
		"id": req.ID,
	}
	if req.User != "" {
		fields["user"] = req.User
	}
	if req.Recipient != "" {
		fields["recipient"] = req.Recipient
	}
	if req.CreatedAt != "" {
		fields["createdAt"] = req.CreatedAt
	}
	if req.Data.Referrer != "" {
		fields["referrer"] = req.Data.Referrer
	}
	if req.Data.Amount != "" && req.Data.Currency != "" {
		fields["amounts"] = []domain.Amount{
			{Asset: req.Data.Currency, Quantity: req.Data.Amount},
		}
	}

	return domain.CandidateItem{
		Protocol:   domain.ProtocolRelay,
		Source:     s.name,
		Fields:     fields,
		Raw:        raw,
		CapturedAt: time.Now().UTC(),
	}
}

// newerTime compares two feed timestamps, parsing RFC 3339 when possible
// and falling back to a lexicographic comparison, which is correct for
// uniformly formatted UTC strings.
func newerTime(a, b string) bool {
	if a == "" {
		return false
	}
	if b == "" {
		return true
	}
	at, aerr := time.Parse(time.RFC3339Nano, a)
	bt, berr := time.Parse(time.RFC3339Nano, b)
	if aerr != nil || berr != nil {
		return a > b
	}
	return at.After(bt)
}
