package eth

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/nftpulse/nftpulse/pkg/sales"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	scanChunkBlocks   = 3000
	scanMaxChunks     = 3
	scanMaxCandidates = 100
	scanPriceWorkers  = 8
)

// SalesScanner walks recent blocks backward looking for priced transfers of
// the monitored contract. Used by the on-demand "last sale" query.
type SalesScanner interface {
	ScanRecentSales(ctx context.Context, count int) []*sales.SaleEvent
}

type DefaultSalesScanner struct {
	ethClient     EthClient
	priceResolver PriceResolver
	contract      common.Address
}

func NewDefaultSalesScanner(
	ethClient EthClient,
	priceResolver PriceResolver,
	contract common.Address,
) *DefaultSalesScanner {
	return &DefaultSalesScanner{
		ethClient:     ethClient,
		priceResolver: priceResolver,
		contract:      contract,
	}
}

// ScanRecentSales returns up to count sale events, most recent first. It
// scans at most scanMaxChunks chunks of scanChunkBlocks blocks each below the
// current head and returns as soon as the accumulated, de-duplicated results
// satisfy count. Transfers that resolve to a zero price are dropped. All
// failures degrade to a shorter (possibly empty) result, never an error.
func (s *DefaultSalesScanner) ScanRecentSales(ctx context.Context, count int) []*sales.SaleEvent {
	if count <= 0 {
		return nil
	}

	tipBlock, err := s.ethClient.BlockNumber(ctx)
	if err != nil {
		zap.L().Error("Failed to fetch current block height", zap.Error(err))
		return nil
	}

	var accumulated []*sales.SaleEvent
	endBlock := tipBlock
	for chunk := 0; chunk < scanMaxChunks; chunk++ {
		if ctx.Err() != nil {
			break
		}
		startBlock := blockFloor(endBlock, scanChunkBlocks-1)

		candidates, err := s.fetchChunkCandidates(ctx, startBlock, endBlock)
		if err != nil {
			zap.L().Warn("Failed to scan block chunk",
				zap.Uint64("startBlock", startBlock),
				zap.Uint64("endBlock", endBlock),
				zap.Error(err))
		} else {
			accumulated = append(accumulated, s.resolveCandidates(ctx, candidates)...)
			accumulated = orderAndDedupEvents(accumulated)
			if len(accumulated) >= count {
				return accumulated[:count]
			}
		}

		if startBlock == 0 {
			break
		}
		endBlock = startBlock - 1
	}
	return accumulated
}

// fetchChunkCandidates pulls every log the monitored contract emitted in the
// block range, keeps the transfers that are not mints or burns, and caps the
// result at the scanMaxCandidates most recent ones.
func (s *DefaultSalesScanner) fetchChunkCandidates(
	ctx context.Context,
	startBlock uint64,
	endBlock uint64,
) ([]sales.Activity, error) {
	callCtx, cancel := context.WithTimeout(ctx, rpcCallTimeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(startBlock),
		ToBlock:   new(big.Int).SetUint64(endBlock),
		Addresses: []common.Address{s.contract},
	}
	logs, err := s.ethClient.FilterLogs(callCtx, query)
	if err != nil {
		return nil, err
	}

	var candidates []sales.Activity
	for _, activity := range decodeTransferLogs(logs) {
		if activity.IsMintOrBurn() {
			continue
		}
		candidates = append(candidates, activity)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber > b.BlockNumber
		}
		if a.TransactionIndex != b.TransactionIndex {
			return a.TransactionIndex > b.TransactionIndex
		}
		return a.LogIndex < b.LogIndex
	})
	if len(candidates) > scanMaxCandidates {
		candidates = candidates[:scanMaxCandidates]
	}
	return candidates, nil
}

// resolveCandidates prices the candidates concurrently. A candidate whose
// price resolves to zero leaves a nil slot instead of failing the group, so
// one dead transfer can never cancel its siblings.
func (s *DefaultSalesScanner) resolveCandidates(
	ctx context.Context,
	candidates []sales.Activity,
) []*sales.SaleEvent {
	resolved := make([]*sales.SaleEvent, len(candidates))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(scanPriceWorkers)
	for i, candidate := range candidates {
		g.Go(func() error {
			price, isWrapped := s.priceResolver.ResolvePrice(
				gCtx, common.HexToHash(candidate.TxHash), candidate.From, candidate.To)
			if price == nil || price.Sign() <= 0 {
				return nil
			}
			resolved[i] = &sales.SaleEvent{
				BlockNumber:      candidate.BlockNumber,
				TransactionIndex: candidate.TransactionIndex,
				TxHash:           candidate.TxHash,
				Buyer:            candidate.To,
				Seller:           candidate.From,
				TokenIDs:         []string{candidate.TokenID},
				TotalPrice:       price,
				IsWrapped:        isWrapped,
				Timestamp:        uint64(time.Now().Unix()),
			}
			return nil
		})
	}
	_ = g.Wait()

	var events []*sales.SaleEvent
	for _, ev := range resolved {
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// orderAndDedupEvents sorts the events most recent first and keeps one event
// per transaction hash. The stable sort preserves the decode order within one
// transaction, so the first transfer of a sweep is the survivor.
func orderAndDedupEvents(events []*sales.SaleEvent) []*sales.SaleEvent {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber > events[j].BlockNumber
		}
		return events[i].TransactionIndex > events[j].TransactionIndex
	})

	seen := make(map[string]bool, len(events))
	deduped := make([]*sales.SaleEvent, 0, len(events))
	for _, ev := range events {
		key := strings.ToLower(ev.TxHash)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, ev)
	}
	return deduped
}
