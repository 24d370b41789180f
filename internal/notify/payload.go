package notify

import (
	"context"
	"time"

	"github.com/nftpulse/nftpulse/internal/media"
	"github.com/nftpulse/nftpulse/pkg/sales"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// payloadMaxTokens caps how many tokens of a sweep get their own image
	// lookup.
	payloadMaxTokens = 20
	// payloadImageWorkers bounds the parallel lookups per sale.
	payloadImageWorkers = 5
	// payloadDownloadBudget is the wall clock for fetching the primary
	// image bytes, matching the per-download timeout.
	payloadDownloadBudget = 20 * time.Second
)

// SalePayload is a sale plus the media needed to present it. ImageURLs holds
// one best URL per token in token order. ImageData holds the downloaded bytes
// of the first token's image, nil when nothing could be fetched.
type SalePayload struct {
	Event     *sales.SaleEvent
	ImageURLs []string
	ImageData []byte
}

type PayloadBuilder interface {
	Build(ctx context.Context, event *sales.SaleEvent) *SalePayload
}

type DefaultPayloadBuilder struct {
	resolver       media.Resolver
	fetchImageData bool
}

func NewDefaultPayloadBuilder(resolver media.Resolver) *DefaultPayloadBuilder {
	return &DefaultPayloadBuilder{resolver: resolver, fetchImageData: true}
}

// NewLinkOnlyPayloadBuilder builds payloads that carry image URLs but never
// raw bytes. The query surface serves JSON and has no use for attachments.
func NewLinkOnlyPayloadBuilder(resolver media.Resolver) *DefaultPayloadBuilder {
	return &DefaultPayloadBuilder{resolver: resolver}
}

// Build gathers one image URL per token and downloads the first token's image
// for attachment. A token whose lookup fails simply contributes no URL, so a
// dead token can never sink the whole notification.
func (b *DefaultPayloadBuilder) Build(ctx context.Context, event *sales.SaleEvent) *SalePayload {
	payload := &SalePayload{Event: event}

	tokenIds := event.TokenIDs
	if len(tokenIds) > payloadMaxTokens {
		tokenIds = tokenIds[:payloadMaxTokens]
	}
	if len(tokenIds) == 0 {
		return payload
	}

	slots := make([]string, len(tokenIds))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(payloadImageWorkers)
	for i, tokenId := range tokenIds {
		g.Go(func() error {
			if urls := b.resolver.ResolveImageURLs(gCtx, tokenId); len(urls) > 0 {
				slots[i] = urls[0]
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, url := range slots {
		if url != "" {
			payload.ImageURLs = append(payload.ImageURLs, url)
		}
	}

	if b.fetchImageData {
		payload.ImageData = b.resolver.DownloadWithFallback(ctx, tokenIds[0], payloadDownloadBudget)
	}
	if payload.ImageData == nil && len(payload.ImageURLs) == 0 {
		zap.L().Warn("No displayable media found for sale",
			zap.String("txHash", event.TxHash),
			zap.Int("tokenCount", event.TokenCount()))
	}
	return payload
}
