package match

import (
	"strconv"
	"strings"
)

// maxFeeBps is the largest meaningful fee, 100% in basis points.
const maxFeeBps = 10000

// ParseMemoSuffix checks whether memo ends in the affiliate suffix
// ":<code>:<bps>" or ":<code>". matched reports whether the code is present
// in a trailing position. feeBps is the parsed basis points when present
// and in range; it stays nil both for the bare ":<code>" form and for an
// out-of-range value. outOfRange flags the latter so callers can mark the
// record low confidence without losing the match.
//
// A non-integer trailing segment does not disqualify the memo: the code may
// still sit in the final position ("...:ss").
func ParseMemoSuffix(memo, code string) (matched bool, feeBps *int, outOfRange bool) {
	if memo == "" || code == "" {
		return false, nil, false
	}
	parts := strings.Split(memo, ":")
	n := len(parts)

	if n >= 3 && strings.EqualFold(parts[n-2], code) {
		if bps, err := strconv.Atoi(strings.TrimSpace(parts[n-1])); err == nil {
			if bps >= 0 && bps <= maxFeeBps {
				return true, &bps, false
			}
			return true, nil, true
		}
	}
	if n >= 2 && strings.EqualFold(parts[n-1], code) {
		return true, nil, false
	}
	return false, nil, false
}
