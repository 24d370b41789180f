package sales

import (
	"math/big"
	"strings"
)

const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Activity is one raw token transfer as delivered by the webhook feed or
// decoded from on-chain logs. Several activities may share one TxHash (a sweep).
type Activity struct {
	BlockNumber      uint64
	TransactionIndex uint64
	LogIndex         uint64
	TxHash           string
	Contract         string
	From             string
	To               string
	TokenID          string
}

func NormalizeActivity(a *Activity) *Activity {
	a.TxHash = strings.ToLower(a.TxHash)
	a.Contract = strings.ToLower(a.Contract)
	a.From = strings.ToLower(a.From)
	a.To = strings.ToLower(a.To)
	a.TokenID = NormalizeTokenID(a.TokenID)
	return a
}

// IsMintOrBurn reports whether either side of the transfer is the zero address.
func (a *Activity) IsMintOrBurn() bool {
	return strings.EqualFold(a.From, ZeroAddress) || strings.EqualFold(a.To, ZeroAddress)
}

// NormalizeTokenID converts a hex-encoded token id ("0x1a") to its decimal
// string form ("26"). Decimal input is canonicalized the same way. If the
// value parses as neither, the original string is returned untouched so the
// id is never dropped.
func NormalizeTokenID(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return raw
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if n, ok := new(big.Int).SetString(s[2:], 16); ok {
			return n.String()
		}
		return raw
	}
	if n, ok := new(big.Int).SetString(s, 10); ok {
		return n.String()
	}
	return raw
}
