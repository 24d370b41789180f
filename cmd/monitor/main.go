package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nftpulse/nftpulse/internal/aggregator"
	"github.com/nftpulse/nftpulse/internal/config"
	"github.com/nftpulse/nftpulse/internal/db"
	"github.com/nftpulse/nftpulse/internal/eth"
	"github.com/nftpulse/nftpulse/internal/media"
	"github.com/nftpulse/nftpulse/internal/nft"
	"github.com/nftpulse/nftpulse/internal/notify"
	"github.com/nftpulse/nftpulse/internal/rpc"
	"github.com/nftpulse/nftpulse/internal/rpc/handlers"
	"go.uber.org/zap"
)

var Version = "dev" // Overridden by release build script

func init() {
	logger := zap.Must(zap.NewProduction())
	if config.Get().LogZapMode == "development" {
		logger = zap.Must(zap.NewDevelopment())
	}
	zap.ReplaceGlobals(logger)
}

func main() {
	zap.L().Info("Starting nftpulse monitor...",
		zap.String("Version", Version))

	cfg := config.Get()
	if cfg.TargetContract == "" {
		zap.L().Fatal("Failed to start - TARGET_CONTRACT is not set")
	}
	if cfg.ChatWebhookUrl == "" {
		zap.L().Fatal("Failed to start - CHAT_WEBHOOK_URL is not set")
	}
	if cfg.NftApiUrl == "" {
		zap.L().Warn("NFT_API_URL is not set, sale notifications will carry no media")
	}

	// Main context: canceled when we want to stop normal operation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the in-memory store backing the processed-transaction set
	badgerDb, err := db.OpenMemoryBadger()
	if err != nil {
		zap.L().Fatal("Failed to open Badger", zap.Error(err))
	}

	ethClient, err := eth.CreateEthClient()
	if err != nil {
		zap.L().Fatal("Failed to create Ethereum client", zap.Error(err))
	}

	targetContract := common.HexToAddress(cfg.TargetContract)
	wrappedContract := common.HexToAddress(cfg.WrappedCurrencyContract)

	priceResolver := eth.NewDefaultPriceResolver(ethClient, wrappedContract)
	salesScanner := eth.NewDefaultSalesScanner(ethClient, priceResolver, targetContract)

	metadataClient := nft.NewDefaultMetadataClient(cfg.NftApiUrl, cfg.NftApiKey, cfg.TargetContract)
	mediaResolver := media.NewDefaultResolver(metadataClient, cfg.IpfsGatewayList(), nil)

	notifier := notify.NewDefaultNotifier(cfg.ChatWebhookUrl, cfg.ExplorerTxUrl, cfg.NativeCurrencySymbol)
	publisher := notify.NewPublisher(notify.NewDefaultPayloadBuilder(mediaResolver), notifier)

	saleAggregator := aggregator.NewDefaultAggregator(priceResolver, targetContract)
	processedDb := aggregator.NewProcessedDb(badgerDb, time.Duration(cfg.ProcessedTxTTLHours)*time.Hour)
	pipeline := aggregator.NewSalePipeline(ctx, saleAggregator, processedDb, publisher)

	// Start the webhook/query HTTP server
	closeRpcServer := rpc.StartRPCServer(cfg.WebhookPort, ctx, handlers.SalesAPI{
		Sink:           pipeline,
		Scanner:        salesScanner,
		Builder:        notify.NewLinkOnlyPayloadBuilder(mediaResolver),
		SigningKey:     cfg.WebhookSigningKey,
		ExplorerTxUrl:  cfg.ExplorerTxUrl,
		CurrencySymbol: cfg.NativeCurrencySymbol,
	})

	// Catch up to two signals: first for graceful, second to force
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	doneCh := make(chan struct{})

	go func() {
		<-sigCh
		zap.L().Info("Received shutdown signal, initiating graceful shutdown...")

		// 1. Stop new requests on the webhook server
		closeRpcServer()

		// 2. Cancel main context, telling in-flight sale processing to stop
		cancel()

		// 3. Close the processed-transaction store
		if err := badgerDb.Close(); err != nil {
			zap.L().Warn("Error closing DB", zap.Error(err))
		}

		// 4. Close the Ethereum client
		ethClient.Close()

		// 5. Signal that cleanup is done
		close(doneCh)

		// If a second signal arrives, force an immediate exit
		<-sigCh
		zap.L().Error("Received second signal, forcing shutdown")
		os.Exit(1)
	}()

	// Wait for either normal context cancellation or graceful shutdown completion
	select {
	case <-ctx.Done():
	case <-doneCh:
	}

	zap.L().Info("Shutdown complete")
	_ = zap.L().Sync()
}
