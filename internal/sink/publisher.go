package sink

import (
	"context"
	"fmt"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
	"github.com/JakeFAU/retail-variant-crawler/internal/metrics"
	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

// PublisherSink publishes each record as a message on topic.
type PublisherSink struct {
	pub   crawler.Publisher
	topic string
}

// NewPublisherSink wraps pub.
func NewPublisherSink(pub crawler.Publisher, topic string) (*PublisherSink, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &PublisherSink{pub: pub, topic: topic}, nil
}

// Push implements variant.Sink.
func (s *PublisherSink) Push(ctx context.Context, record variant.Record) error {
	_, err := s.pub.Publish(ctx, s.topic, record)
	metrics.ObserveRecordWrite("publisher", err)
	if err != nil {
		return fmt.Errorf("publish variant %d of %s: %w", record.Variant, record.VariantGroupURL, err)
	}
	return nil
}
