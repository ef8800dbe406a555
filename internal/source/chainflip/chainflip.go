// Package chainflip polls a Chainflip node over JSON-RPC for swaps routed
// through brokers. Swap ids are monotonically increasing, so the cursor is
// the highest id emitted.
package chainflip

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"affwatch/internal/core/domain"
	"affwatch/internal/infra/fetch"
	"affwatch/internal/source"
)

const defaultMethod = "cf_scheduled_swaps"

type scheduledSwap struct {
	SwapID             json.Number `json:"swap_id"`
	SourceAsset        string      `json:"source_asset"`
	DestinationAsset   string      `json:"destination_asset"`
	DepositAmount      string      `json:"deposit_amount"`
	DestinationAddress string      `json:"destination_address"`
	Broker             string      `json:"broker"`
	BrokerCommission   json.Number `json:"broker_commission_bps"`
	Affiliates         []struct {
		Account       string      `json:"account"`
		CommissionBps json.Number `json:"commission_bps"`
	} `json:"affiliates"`
}

// Source polls a Chainflip RPC node for scheduled swaps.
type Source struct {
	name   string
	url    string
	method string
	client *fetch.Client
	logger *slog.Logger
}

// New creates a Chainflip swaps source.
func New(opts source.Options, client *fetch.Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	method := opts.Method
	if method == "" {
		method = defaultMethod
	}
	return &Source{
		name:   opts.Name,
		url:    opts.URL,
		method: method,
		client: client,
		logger: logger,
	}
}

func (s *Source) Name() string { return s.name }

func (s *Source) Protocol() domain.Protocol { return domain.ProtocolChainflip }

// Poll fetches the current swap list and emits every swap with an id above
// position.
func (s *Source) Poll(ctx context.Context, position string, emit source.EmitFunc) (string, error) {
	result, err := s.client.RPCCall(ctx, s.url, s.method, nil)
	if err != nil {
		return position, err
	}

	var swaps []json.RawMessage
	if err := json.Unmarshal(result, &swaps); err != nil {
		return position, err
	}

	lastID := parseSwapID(position)
	maxID := lastID
	for _, raw := range swaps {
		var sw scheduledSwap
		if err := json.Unmarshal(raw, &sw); err != nil {
			s.logger.Warn("skipping malformed swap", "source", s.name, "error", err)
			continue
		}
		id, err := sw.SwapID.Int64()
		if err != nil {
			s.logger.Warn("skipping swap with bad id", "source", s.name, "id", sw.SwapID)
			continue
		}
		if id <= lastID {
			continue
		}
		if id > maxID {
			maxID = id
		}
		if err := emit(ctx, s.candidate(sw, raw)); err != nil {
			return formatSwapID(maxID, position), err
		}
	}

	return formatSwapID(maxID, position), nil
}

func (s *Source) candidate(sw scheduledSwap, raw json.RawMessage) domain.CandidateItem {
	var affiliates []string
	for _, a := range sw.Affiliates {
		if a.Account != "" {
			affiliates = append(affiliates, a.Account)
		}
	}

	fields := map[string]any{
		"swap_id":   sw.SwapID.String(),
		"addresses": affiliates,
	}
	if sw.Broker != "" {
		fields["broker"] = sw.Broker
	}
	if sw.DestinationAddress != "" {
		fields["destination_address"] = sw.DestinationAddress
	}
	if sw.DepositAmount != "" && sw.SourceAsset != "" {
		fields["amounts"] = []domain.Amount{
			{Asset: sw.SourceAsset, Quantity: sw.DepositAmount},
		}
	}

	return domain.CandidateItem{
		Protocol:   domain.ProtocolChainflip,
		Source:     s.name,
		Fields:     fields,
		Raw:        raw,
		CapturedAt: time.Now().UTC(),
	}
}

func parseSwapID(position string) int64 {
	if position == "" {
		return 0
	}
	id, err := strconv.ParseInt(position, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// formatSwapID keeps the previous position verbatim when nothing advanced,
// so an unparseable stored value is never silently rewritten.
func formatSwapID(id int64, previous string) string {
	if id == 0 {
		return previous
	}
	return strconv.FormatInt(id, 10)
}
