package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/nftpulse/nftpulse/pkg/sales"
	"go.uber.org/zap"
)

// lastSaleQueryBudget bounds the whole query end to end; on expiry the
// client gets a "timed_out" outcome instead of an error.
const lastSaleQueryBudget = 45 * time.Second

const (
	OutcomeOK            = "ok"
	OutcomeNoRecentSales = "no_recent_sales"
	OutcomeTimedOut      = "timed_out"
)

type LastSaleResponse struct {
	Outcome   string   `json:"outcome"`
	Category  string   `json:"category,omitempty"`
	Price     string   `json:"price,omitempty"`
	TxHash    string   `json:"txHash,omitempty"`
	TxUrl     string   `json:"txUrl,omitempty"`
	Buyer     string   `json:"buyer,omitempty"`
	Seller    string   `json:"seller,omitempty"`
	TokenIds  string   `json:"tokenIds,omitempty"`
	ImageUrls []string `json:"imageUrls,omitempty"`
}

// LastSaleGetHandler scans backward for the most recent priced sale and
// renders it the way a notification would, minus the attachment bytes. The
// query never mutates state: nothing is marked processed and nothing is
// published to the chat sink.
func LastSaleGetHandler(r *http.Request, api SalesAPI) (LastSaleResponse, error) {
	ctx, cancel := context.WithTimeout(r.Context(), lastSaleQueryBudget)
	defer cancel()

	found := api.Scanner.ScanRecentSales(ctx, 1)
	if len(found) == 0 {
		if ctx.Err() != nil {
			zap.L().Warn("Last sale query timed out")
			return LastSaleResponse{Outcome: OutcomeTimedOut}, nil
		}
		return LastSaleResponse{Outcome: OutcomeNoRecentSales}, nil
	}

	event := found[0]
	payload := api.Builder.Build(ctx, event)

	symbol := api.CurrencySymbol
	if event.IsWrapped {
		symbol = "W" + symbol
	}

	imageUrls := payload.ImageURLs
	if len(imageUrls) > 6 {
		imageUrls = imageUrls[:6]
	}

	return LastSaleResponse{
		Outcome:   OutcomeOK,
		Category:  sales.CategoryForCount(event.TokenCount()).Label,
		Price:     sales.FormatPrice(event.TotalPrice, symbol),
		TxHash:    event.TxHash,
		TxUrl:     api.ExplorerTxUrl + event.TxHash,
		Buyer:     event.Buyer,
		Seller:    event.Seller,
		TokenIds:  sales.TokenIDSummary(event.TokenIDs),
		ImageUrls: imageUrls,
	}, nil
}
