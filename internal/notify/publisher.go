package notify

import (
	"context"

	"github.com/nftpulse/nftpulse/pkg/sales"
)

// Publisher glues the payload builder to the notifier, forming the sale sink
// the processing pipeline publishes into.
type Publisher struct {
	builder  PayloadBuilder
	notifier Notifier
}

func NewPublisher(builder PayloadBuilder, notifier Notifier) *Publisher {
	return &Publisher{builder: builder, notifier: notifier}
}

func (p *Publisher) Publish(ctx context.Context, event *sales.SaleEvent) error {
	return p.notifier.Notify(ctx, p.builder.Build(ctx, event))
}
