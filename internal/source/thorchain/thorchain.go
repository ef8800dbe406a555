// Package thorchain polls a Midgard actions endpoint for swap activity.
// Midgard returns actions newest first with nanosecond timestamps, so the
// cursor is the highest timestamp emitted and a pass stops as soon as it
// pages back onto something already seen.
package thorchain

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

type actionsPage struct {
	Actions []json.RawMessage `json:"actions"`
	Count   string            `json:"count"`
}

type action struct {
	Date     string     `json:"date"`
	Height   string     `json:"height"`
	Type     string     `json:"type"`
	Status   string     `json:"status"`
	In       []actionIO `json:"in"`
	Out      []actionIO `json:"out"`
	Metadata struct {
		Swap struct {
			Memo             string `json:"memo"`
			AffiliateAddress string `json:"affiliateAddress"`
			AffiliateFee     string `json:"affiliateFee"`
		} `json:"swap"`
	} `json:"metadata"`
}

type actionIO struct {
	TxID    string `json:"txID"`
	Address string `json:"address"`
	Coins   []struct {
		Amount string `json:"amount"`
		Asset  string `json:"asset"`
	} `json:"coins"`
}

// Source polls Midgard for THORChain actions.
type Source struct {
	name      string
	url       string
	affiliate string
	pageSize  int
	maxPages  int
	pageDelay time.Duration
	client    *fetch.Client
	logger    *slog.Logger
}

// New creates a Midgard actions source.
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
		affiliate: opts.Affiliate,
		pageSize:  opts.PageSize,
		maxPages:  opts.MaxPages,
		pageDelay: opts.PageDelay,
		client:    client,
		logger:    logger,
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Protocol() domain.Protocol { return domain.ProtocolTHORChain }

// Poll pages through actions until it reaches the previous position, the
// configured page budget, or a short page.
func (s *Source) Poll(ctx context.Context, position string, emit source.EmitFunc) (string, error) {
	maxSeen := position

	for page := 0; page < s.maxPages; page++ {
		pageURL, err := s.pageURL(page * s.pageSize)
		if err != nil {
			return maxSeen, err
		}

		var pg actionsPage
		if err := s.client.GetJSON(ctx, pageURL, &pg); err != nil {
			return maxSeen, err
		}
		if len(pg.Actions) == 0 {
			break
		}

		caughtUp := false
		for _, raw := range pg.Actions {
			var act action
			if err := json.Unmarshal(raw, &act); err != nil {
				s.logger.Warn("skipping malformed action", "source", s.name, "error", err)
				continue
			}
			if position != "" && act.Date != "" && !newerTimestamp(act.Date, position) {
				caughtUp = true
				break
			}
			if newerTimestamp(act.Date, maxSeen) {
				maxSeen = act.Date
			}
			if err := emit(ctx, s.candidate(act, raw)); err != nil {
				return maxSeen, err
			}
		}

		if caughtUp || len(pg.Actions) < s.pageSize {
			break
		}
		if page < s.maxPages-1 {
			if err := source.Pause(ctx, s.pageDelay); err != nil {
				return maxSeen, err
			}
		}
	}

	return maxSeen, nil
}

func (s *Source) pageURL(offset int) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("invalid midgard url %q: %w", s.url, err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(s.pageSize))
	q.Set("offset", strconv.Itoa(offset))
	if s.affiliate != "" {
		q.Set("affiliate", s.affiliate)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Source) candidate(act action, raw json.RawMessage) domain.CandidateItem {
	var (
		txID  string
		addrs []string
		amts  []domain.Amount
	)
	for _, io := range append(append([]actionIO{}, act.In...), act.Out...) {
		if txID == "" && io.TxID != "" {
			txID = io.TxID
		}
		if io.Address != "" {
			addrs = append(addrs, io.Address)
		}
		for _, c := range io.Coins {
			amts = append(amts, domain.Amount{Asset: c.Asset, Quantity: c.Amount})
		}
	}
	// The affiliate can be a thorname or a plain address; either way it is a
	// named participant of the action.
	if aff := act.Metadata.Swap.AffiliateAddress; aff != "" {
		addrs = append(addrs, aff)
	}

	fields := map[string]any{
		"date":      act.Date,
		"addresses": addrs,
		"amounts":   amts,
	}
	if txID != "" {
		fields["txID"] = txID
	}
	if act.Metadata.Swap.Memo != "" {
		fields["memo"] = act.Metadata.Swap.Memo
	}

	return domain.CandidateItem{
		Protocol:   domain.ProtocolTHORChain,
		Source:     s.name,
		Fields:     fields,
		Raw:        raw,
		CapturedAt: time.Now().UTC(),
	}
}

// newerTimestamp compares two midgard nanosecond timestamps. An empty or
// unparseable value is never newer.
func newerTimestamp(a, b string) bool {
	if a == "" {
		return false
	}
	if b == "" {
		return true
	}
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr != nil || berr != nil {
		return a > b
	}
	return ai > bi
}
