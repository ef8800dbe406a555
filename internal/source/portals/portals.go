// Package portals polls the Portals transaction history for a partner.
// The feed is newest first with second-precision timestamps; the cursor is
// the highest timestamp emitted.
package portals

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

type historyPage struct {
	More         bool              `json:"more"`
	Page         int               `json:"page"`
	Transactions []json.RawMessage `json:"transactions"`
}

type portalTx struct {
	Hash           string      `json:"hash"`
	Sender         string      `json:"sender"`
	Partner        string      `json:"partner"`
	InputToken     string      `json:"inputToken"`
	InputAmount    string      `json:"inputAmount"`
	OutputToken    string      `json:"outputToken"`
	OutputAmount   string      `json:"outputAmount"`
	BlockTimestamp json.Number `json:"blockTimestamp"`
}

// Source polls the Portals partner history feed.
type Source struct {
	name      string
	url       string
	partner   string
	pageSize  int
	maxPages  int
	pageDelay time.Duration
	client    *fetch.Client
	logger    *slog.Logger
}

// New creates a Portals history source.
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
		partner:   opts.Affiliate,
		pageSize:  opts.PageSize,
		maxPages:  opts.MaxPages,
		pageDelay: opts.PageDelay,
		client:    client,
		logger:    logger,
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Protocol() domain.Protocol { return domain.ProtocolPortals }

// Poll pages through the history until it reaches the previous position,
// the last page, or the page budget.
func (s *Source) Poll(ctx context.Context, position string, emit source.EmitFunc) (string, error) {
	lastSeen := parseUnix(position)
	maxSeen := lastSeen

	for page := 0; page < s.maxPages; page++ {
		pageURL, err := s.pageURL(page)
		if err != nil {
			return formatUnix(maxSeen, position), err
		}

		var pg historyPage
		if err := s.client.GetJSON(ctx, pageURL, &pg); err != nil {
			return formatUnix(maxSeen, position), err
		}
		if len(pg.Transactions) == 0 {
			break
		}

		caughtUp := false
		for _, raw := range pg.Transactions {
			var tx portalTx
			if err := json.Unmarshal(raw, &tx); err != nil {
				s.logger.Warn("skipping malformed transaction", "source", s.name, "error", err)
				continue
			}
			if tx.Hash == "" {
				continue
			}
			ts, _ := tx.BlockTimestamp.Int64()
			if lastSeen > 0 && ts > 0 && ts <= lastSeen {
				caughtUp = true
				break
			}
			if ts > maxSeen {
				maxSeen = ts
			}
			if err := emit(ctx, s.candidate(tx, raw)); err != nil {
				return formatUnix(maxSeen, position), err
			}
		}

		if caughtUp || !pg.More {
			break
		}
		if page < s.maxPages-1 {
			if err := source.Pause(ctx, s.pageDelay); err != nil {
				return formatUnix(maxSeen, position), err
			}
		}
	}

	return formatUnix(maxSeen, position), nil
}

func (s *Source) pageURL(page int) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("invalid portals url %q: %w", s.url, err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(s.pageSize))
	q.Set("page", strconv.Itoa(page))
	if s.partner != "" {
		q.Set("partner", s.partner)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Source) candidate(tx portalTx, raw json.RawMessage) domain.CandidateItem {
	fields := map[string]any{
		"hash": tx.Hash,
	}
	if tx.Sender != "" {
		fields["sender"] = tx.Sender
	}
	if tx.Partner != "" {
		fields["partner"] = tx.Partner
	}
	if ts := tx.BlockTimestamp.String(); ts != "" && ts != "0" {
		fields["blockTimestamp"] = ts
	}

	var amts []domain.Amount
	if tx.InputAmount != "" && tx.InputToken != "" {
		amts = append(amts, domain.Amount{Asset: tx.InputToken, Quantity: tx.InputAmount})
	}
	if tx.OutputAmount != "" && tx.OutputToken != "" {
		amts = append(amts, domain.Amount{Asset: tx.OutputToken, Quantity: tx.OutputAmount})
	}
	if len(amts) > 0 {
		fields["amounts"] = amts
	}

	return domain.CandidateItem{
		Protocol:   domain.ProtocolPortals,
		Source:     s.name,
		Fields:     fields,
		Raw:        raw,
		CapturedAt: time.Now().UTC(),
	}
}

func parseUnix(position string) int64 {
	if position == "" {
		return 0
	}
	n, err := strconv.ParseInt(position, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatUnix(ts int64, previous string) string {
	if ts == 0 {
		return previous
	}
	return strconv.FormatInt(ts, 10)
}
