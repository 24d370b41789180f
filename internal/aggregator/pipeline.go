package aggregator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nftpulse/nftpulse/pkg/sales"
	"go.uber.org/zap"
)

const (
	graceWindow       = 2 * time.Second
	processingTimeout = 60 * time.Second
)

// SaleSink receives fully aggregated sales for publication.
type SaleSink interface {
	Publish(ctx context.Context, event *sales.SaleEvent) error
}

// SalePipeline buffers inbound activities per transaction hash for a short
// grace window, so the transfers of a multi-item sweep that arrive as
// separate webhook deliveries are aggregated into one sale. Processing of a
// drained transaction is bounded by a hard timeout and abandoned on expiry.
type SalePipeline struct {
	ctx         context.Context
	aggregator  Aggregator
	processedDb ProcessedDb
	sink        SaleSink

	mu      sync.Mutex
	pending map[string][]sales.Activity

	grace             time.Duration
	processingTimeout time.Duration
}

func NewSalePipeline(ctx context.Context, aggregator Aggregator, processedDb ProcessedDb, sink SaleSink) *SalePipeline {
	return &SalePipeline{
		ctx:               ctx,
		aggregator:        aggregator,
		processedDb:       processedDb,
		sink:              sink,
		pending:           make(map[string][]sales.Activity),
		grace:             graceWindow,
		processingTimeout: processingTimeout,
	}
}

// Submit buffers one activity under its transaction hash and schedules a
// drain after the grace window. Every arrival schedules its own waker; the
// first to fire takes the whole buffer, later ones find it empty.
func (p *SalePipeline) Submit(activity sales.Activity) {
	txHash := strings.ToLower(activity.TxHash)
	if txHash == "" {
		return
	}

	p.mu.Lock()
	p.pending[txHash] = append(p.pending[txHash], activity)
	p.mu.Unlock()

	go p.drainAfterGrace(txHash)
}

func (p *SalePipeline) drainAfterGrace(txHash string) {
	if sleepInterrupted(p.ctx, p.grace) {
		return
	}

	p.mu.Lock()
	activities := p.pending[txHash]
	delete(p.pending, txHash)
	p.mu.Unlock()

	if len(activities) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.processingTimeout)
	defer cancel()

	if err := p.processSale(ctx, txHash, activities); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			zap.L().Error("Timed out processing sale", zap.String("txHash", txHash))
			return
		}
		zap.L().Error("Failed to process sale", zap.String("txHash", txHash), zap.Error(err))
	}
}

func (p *SalePipeline) processSale(ctx context.Context, txHash string, activities []sales.Activity) error {
	if p.processedDb.IsProcessed(txHash) {
		zap.L().Debug("Sale already processed, skipping", zap.String("txHash", txHash))
		return nil
	}

	event := p.aggregator.Aggregate(ctx, txHash, activities)
	if event == nil {
		return nil
	}

	if err := p.sink.Publish(ctx, event); err != nil {
		zap.L().Error("Failed to publish sale notification",
			zap.String("txHash", txHash),
			zap.Error(err))
	}

	// Marked even when publishing failed; a failed publish is not retried.
	return p.processedDb.MarkProcessed(txHash)
}

func sleepInterrupted(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
