package handlers

import (
	"context"

	"github.com/nftpulse/nftpulse/internal/notify"
	"github.com/nftpulse/nftpulse/pkg/sales"
)

// ActivitySink receives parsed webhook activities for grace-window grouping.
type ActivitySink interface {
	Submit(activity sales.Activity)
}

// SalesScanner serves the on-demand last-sale query.
type SalesScanner interface {
	ScanRecentSales(ctx context.Context, count int) []*sales.SaleEvent
}

// SalesAPI bundles the collaborators behind the sale endpoints.
type SalesAPI struct {
	Sink    ActivitySink
	Scanner SalesScanner
	Builder notify.PayloadBuilder
	// SigningKey enables webhook signature verification when non-empty.
	SigningKey     string
	ExplorerTxUrl  string
	CurrencySymbol string
}
