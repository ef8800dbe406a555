// Package zerox polls a 0x swap transaction feed. The feed hands back a
// resume token with each page; the cursor is the last token received, so a
// pass picks up exactly where the previous one stopped.
package zerox

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

type txPage struct {
	Transactions []json.RawMessage `json:"transactions"`
	NextCursor   string            `json:"nextCursor"`
}

type transaction struct {
	TransactionHash  string      `json:"transactionHash"`
	Taker            string      `json:"taker"`
	Maker            string      `json:"maker"`
	AffiliateAddress string      `json:"affiliateAddress"`
	Integrator       string      `json:"integrator"`
	Timestamp        json.Number `json:"timestamp"`
	SellToken        string      `json:"sellToken"`
	BuyToken         string      `json:"buyToken"`
	SellAmount       string      `json:"sellAmount"`
	BuyAmount        string      `json:"buyAmount"`
}

// Source polls a 0x transaction feed.
type Source struct {
	name      string
	url       string
	pageSize  int
	maxPages  int
	pageDelay time.Duration
	client    *fetch.Client
	logger    *slog.Logger
}

// New creates a 0x swap feed source.
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

func (s *Source) Protocol() domain.Protocol { return domain.ProtocolZeroX }

// Poll follows resume tokens from position until the feed runs dry or the
// page budget is spent.
func (s *Source) Poll(ctx context.Context, position string, emit source.EmitFunc) (string, error) {
	pos := position

	for page := 0; page < s.maxPages; page++ {
		pageURL, err := s.pageURL(pos)
		if err != nil {
			return pos, err
		}

		var pg txPage
		if err := s.client.GetJSON(ctx, pageURL, &pg); err != nil {
			return pos, err
		}
		if len(pg.Transactions) == 0 {
			break
		}

		for _, raw := range pg.Transactions {
			var tx transaction
			if err := json.Unmarshal(raw, &tx); err != nil {
				s.logger.Warn("skipping malformed transaction", "source", s.name, "error", err)
				continue
			}
			if tx.TransactionHash == "" {
				continue
			}
			if err := emit(ctx, s.candidate(tx, raw)); err != nil {
				return pos, err
			}
		}

		if pg.NextCursor == "" || pg.NextCursor == pos {
			break
		}
		pos = pg.NextCursor

		if page < s.maxPages-1 {
			if err := source.Pause(ctx, s.pageDelay); err != nil {
				return pos, err
			}
		}
	}

	return pos, nil
}

func (s *Source) pageURL(cursor string) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("invalid feed url %q: %w", s.url, err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(s.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Source) candidate(tx transaction, raw json.RawMessage) domain.CandidateItem {
	fields := map[string]any{
		"transactionHash": tx.TransactionHash,
	}
	if tx.Taker != "" {
		fields["taker"] = tx.Taker
	}
	if tx.Maker != "" {
		fields["maker"] = tx.Maker
	}
	if tx.AffiliateAddress != "" {
		fields["affiliateAddress"] = tx.AffiliateAddress
	}
	if tx.Integrator != "" {
		fields["integrator"] = tx.Integrator
	}
	if ts := tx.Timestamp.String(); ts != "" && ts != "0" {
		fields["timestamp"] = ts
	}

	var amts []domain.Amount
	if tx.SellAmount != "" && tx.SellToken != "" {
		amts = append(amts, domain.Amount{Asset: tx.SellToken, Quantity: tx.SellAmount})
	}
	if tx.BuyAmount != "" && tx.BuyToken != "" {
		amts = append(amts, domain.Amount{Asset: tx.BuyToken, Quantity: tx.BuyAmount})
	}
	if len(amts) > 0 {
		fields["amounts"] = amts
	}

	return domain.CandidateItem{
		Protocol:   domain.ProtocolZeroX,
		Source:     s.name,
		Fields:     fields,
		Raw:        raw,
		CapturedAt: time.Now().UTC(),
	}
}
