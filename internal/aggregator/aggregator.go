package aggregator

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nftpulse/nftpulse/internal/eth"
	"github.com/nftpulse/nftpulse/pkg/sales"
	"go.uber.org/zap"
)

// Aggregator folds the raw transfer activities of one transaction into a
// single SaleEvent.
type Aggregator interface {
	// Aggregate returns nil when nothing in the transaction qualifies as a
	// sale of the monitored contract.
	Aggregate(ctx context.Context, txHash string, activities []sales.Activity) *sales.SaleEvent
}

type DefaultAggregator struct {
	priceResolver eth.PriceResolver
	contract      string
}

func NewDefaultAggregator(priceResolver eth.PriceResolver, contract common.Address) *DefaultAggregator {
	return &DefaultAggregator{
		priceResolver: priceResolver,
		contract:      strings.ToLower(contract.Hex()),
	}
}

// Aggregate keeps the monitored contract's activities, drops mints and burns,
// and collects the token ids and trading addresses of what remains. The first
// surviving transfer supplies the representative buyer and seller handed to
// price resolution. Token ids arrive in whatever encoding the feed used, so
// they are normalized to decimal here; unparsable ids are kept verbatim
// rather than dropped.
func (a *DefaultAggregator) Aggregate(ctx context.Context, txHash string, activities []sales.Activity) *sales.SaleEvent {
	var (
		tokenIds []string
		buyers   []string
		sellers  []string
		first    *sales.Activity
	)
	seenBuyers := make(map[string]bool)
	seenSellers := make(map[string]bool)

	for i := range activities {
		activity := activities[i]
		if !strings.EqualFold(activity.Contract, a.contract) {
			continue
		}
		if activity.IsMintOrBurn() {
			continue
		}
		if first == nil {
			first = &activities[i]
		}
		if activity.TokenID != "" {
			tokenIds = append(tokenIds, sales.NormalizeTokenID(activity.TokenID))
		}
		if buyer := strings.ToLower(activity.To); !seenBuyers[buyer] {
			seenBuyers[buyer] = true
			buyers = append(buyers, buyer)
		}
		if seller := strings.ToLower(activity.From); !seenSellers[seller] {
			seenSellers[seller] = true
			sellers = append(sellers, seller)
		}
	}

	if len(tokenIds) == 0 {
		zap.L().Debug("No qualifying transfers in transaction", zap.String("txHash", txHash))
		return nil
	}

	price, isWrapped := a.priceResolver.ResolvePrice(ctx, common.HexToHash(txHash), sellers[0], buyers[0])

	return sales.Normalize(&sales.SaleEvent{
		BlockNumber:      first.BlockNumber,
		TransactionIndex: first.TransactionIndex,
		TxHash:           txHash,
		Buyer:            buyers[0],
		Seller:           sellers[0],
		TokenIDs:         tokenIds,
		TotalPrice:       price,
		IsWrapped:        isWrapped,
		Timestamp:        uint64(time.Now().Unix()),
	})
}
