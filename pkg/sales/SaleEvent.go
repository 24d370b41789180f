package sales

import (
	"fmt"
	"math/big"
	"strings"
)

// SaleEvent is a fully resolved sale, built once per grouped transaction and
// immutable afterwards. TotalPrice is in wei; zero means the price could not
// be determined.
type SaleEvent struct {
	BlockNumber      uint64
	TransactionIndex uint64
	TxHash           string
	Buyer            string
	Seller           string
	TokenIDs         []string
	TotalPrice       *big.Int
	IsWrapped        bool
	Timestamp        uint64
}

func (e *SaleEvent) TokenCount() int {
	return len(e.TokenIDs)
}

func Normalize(e *SaleEvent) *SaleEvent {
	e.TxHash = strings.ToLower(e.TxHash)
	e.Buyer = strings.ToLower(e.Buyer)
	e.Seller = strings.ToLower(e.Seller)
	return e
}

type Category struct {
	Label string
	Color int
}

var (
	CategorySingle    = Category{Label: "Single NFT Sale", Color: 0x3498db}
	CategoryMiniSweep = Category{Label: "Mini Sweep", Color: 0x2ecc71}
	CategoryBigSweep  = Category{Label: "Big Sweep", Color: 0xe67e22}
	CategoryHugeSweep = Category{Label: "Huge Sweep", Color: 0xe74c3c}
)

func CategoryForCount(count int) Category {
	switch {
	case count <= 1:
		return CategorySingle
	case count <= 5:
		return CategoryMiniSweep
	case count <= 10:
		return CategoryBigSweep
	default:
		return CategoryHugeSweep
	}
}

var (
	weiPerTenThousandth = new(big.Int).Exp(big.NewInt(10), big.NewInt(14), nil)
	halfTenThousandth   = new(big.Int).Div(weiPerTenThousandth, big.NewInt(2))
)

// FormatPrice renders a wei amount as "<value> <symbol>" with at most four
// decimal places, trailing zeros stripped. The math stays in big.Int the
// whole way so 256-bit amounts never lose precision.
func FormatPrice(wei *big.Int, symbol string) string {
	if wei == nil || wei.Sign() <= 0 {
		return "0 " + symbol
	}

	// Round half up to units of 1e-4.
	scaled := new(big.Int).Add(wei, halfTenThousandth)
	scaled.Div(scaled, weiPerTenThousandth)

	intPart := new(big.Int)
	fracPart := new(big.Int)
	intPart.DivMod(scaled, big.NewInt(10000), fracPart)

	if fracPart.Sign() == 0 {
		return fmt.Sprintf("%s %s", intPart.String(), symbol)
	}
	frac := strings.TrimRight(fmt.Sprintf("%04d", fracPart.Int64()), "0")
	return fmt.Sprintf("%s.%s %s", intPart.String(), frac, symbol)
}

// TokenIDSummary renders up to ten token ids, comma separated, with a
// "(+N more)" suffix when the list is longer.
func TokenIDSummary(ids []string) string {
	const maxShown = 10
	if len(ids) <= maxShown {
		return strings.Join(ids, ", ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(ids[:maxShown], ", "), len(ids)-maxShown)
}
