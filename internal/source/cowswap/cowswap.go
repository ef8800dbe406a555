// Package cowswap polls the CoW Protocol API for settled trades. The app
// code that identifies the integrating wallet lives in the order's
// fullAppData document, so each new trade costs one extra order lookup.
// The cursor is the highest settlement block emitted.
package cowswap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/fetch"
	"affwatch/internal/source"
)

type trade struct {
	BlockNumber json.Number `json:"blockNumber"`
	LogIndex    json.Number `json:"logIndex"`
	OrderUID    string      `json:"orderUid"`
	Owner       string      `json:"owner"`
	TxHash      string      `json:"txHash"`
	SellToken   string      `json:"sellToken"`
	BuyToken    string      `json:"buyToken"`
	SellAmount  string      `json:"sellAmount"`
	BuyAmount   string      `json:"buyAmount"`
}

type order struct {
	FullAppData string `json:"fullAppData"`
}

// Source polls the CoW Protocol orderbook API.
type Source struct {
	name     string
	base     string
	pageSize int
	client   *fetch.Client
	logger   *slog.Logger
}

// New creates a CoW Swap trades source. url is the API base, e.g.
// https://api.cow.fi/mainnet/api/v1.
func New(opts source.Options, client *fetch.Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &Source{
		name:     opts.Name,
		base:     opts.URL,
		pageSize: opts.PageSize,
		client:   client,
		logger:   logger,
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Protocol() domain.Protocol { return domain.ProtocolCowSwap }

// Poll fetches recent trades and emits those settled after position.
func (s *Source) Poll(ctx context.Context, position string, emit source.EmitFunc) (string, error) {
	tradesURL := fmt.Sprintf("%s/trades?limit=%d", s.base, s.pageSize)

	var trades []json.RawMessage
	if err := s.client.GetJSON(ctx, tradesURL, &trades); err != nil {
		return position, err
	}

	lastBlock := parseBlock(position)
	maxBlock := lastBlock
	for _, raw := range trades {
		var tr trade
		if err := json.Unmarshal(raw, &tr); err != nil {
			s.logger.Warn("skipping malformed trade", "source", s.name, "error", err)
			continue
		}
		block, err := tr.BlockNumber.Int64()
		if err != nil || tr.OrderUID == "" {
			continue
		}
		if block <= lastBlock {
			continue
		}
		if block > maxBlock {
			maxBlock = block
		}
		if err := emit(ctx, s.candidate(ctx, tr, raw)); err != nil {
			return formatBlock(maxBlock, position), err
		}
	}

	return formatBlock(maxBlock, position), nil
}

func (s *Source) candidate(ctx context.Context, tr trade, raw json.RawMessage) domain.CandidateItem {
	fields := map[string]any{
		"orderUid": tr.OrderUID,
	}
	if tr.Owner != "" {
		fields["owner"] = tr.Owner
	}

	var amts []domain.Amount
	if tr.SellAmount != "" && tr.SellToken != "" {
		amts = append(amts, domain.Amount{Asset: tr.SellToken, Quantity: tr.SellAmount})
	}
	if tr.BuyAmount != "" && tr.BuyToken != "" {
		amts = append(amts, domain.Amount{Asset: tr.BuyToken, Quantity: tr.BuyAmount})
	}
	if len(amts) > 0 {
		fields["amounts"] = amts
	}

	if code := s.appCode(ctx, tr.OrderUID); code != "" {
		fields["appCode"] = code
	}

	return domain.CandidateItem{
		Protocol:   domain.ProtocolCowSwap,
		Source:     s.name,
		Fields:     fields,
		Raw:        raw,
		CapturedAt: time.Now().UTC(),
	}
}

// appCode resolves the order's app code from its fullAppData document.
// A failed lookup degrades to an empty code; the trade is still emitted.
func (s *Source) appCode(ctx context.Context, uid string) string {
	var ord order
	if err := s.client.GetJSON(ctx, s.base+"/orders/"+uid, &ord); err != nil {
		s.logger.Warn("failed to resolve order app data",
			"source", s.name,
			"order", uid,
			"error", err)
		return ""
	}
	if ord.FullAppData == "" {
		return ""
	}

	var doc struct {
		AppCode string `json:"appCode"`
	}
	if err := json.Unmarshal([]byte(ord.FullAppData), &doc); err != nil {
		return ""
	}
	return doc.AppCode
}

func parseBlock(position string) int64 {
	if position == "" {
		return 0
	}
	n, err := strconv.ParseInt(position, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatBlock(block int64, previous string) string {
	if block == 0 {
		return previous
	}
	return strconv.FormatInt(block, 10)
}
