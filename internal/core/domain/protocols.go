package domain

import "strings"

// Protocol identifies the venue a transaction was observed on
type Protocol string

const (
	ProtocolTHORChain Protocol = "thorchain"
	ProtocolChainflip Protocol = "chainflip"
	ProtocolCowSwap   Protocol = "cowswap"
	ProtocolZeroX     Protocol = "zerox"
	ProtocolPortals   Protocol = "portals"
	ProtocolRelay     Protocol = "relay"
	ProtocolViewBlock Protocol = "viewblock"
)

// KnownProtocols lists the protocols with built-in source support.
var KnownProtocols = []Protocol{
	ProtocolTHORChain,
	ProtocolChainflip,
	ProtocolCowSwap,
	ProtocolZeroX,
	ProtocolPortals,
	ProtocolRelay,
	ProtocolViewBlock,
}

// ParseProtocol normalizes a config value to a Protocol. Unknown values are
// passed through so new feeds can be configured without a code change.
func ParseProtocol(s string) Protocol {
	return Protocol(strings.ToLower(strings.TrimSpace(s)))
}

func (p Protocol) String() string {
	return string(p)
}
