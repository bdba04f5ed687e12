package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/retail-variant-crawler/internal/metrics"
	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

// Log writes a structured line per record. Used by the CLI when no durable
// sink is configured.
type Log struct {
	logger *zap.Logger
}

// NewLog builds a Log sink. A nil logger discards.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Push implements variant.Sink.
func (l *Log) Push(_ context.Context, record variant.Record) error {
	l.logger.Info("variant",
		zap.String("variant_group_url", record.VariantGroupURL),
		zap.Int("variant", record.Variant),
		zap.String("selection_path", record.Path.String()),
		zap.String("url", record.URL),
		zap.String("sku", record.SKU),
		zap.String("price", record.Price),
		zap.Int64("price_minor", record.PriceMinor),
		zap.Bool("is_discounted", record.IsDiscounted),
		zap.String("currency", record.Currency),
		zap.String("availability", record.Availability),
		zap.Strings("images", record.Images),
		zap.Any("attributes", record.Attributes),
		zap.Time("fetched_at", record.FetchedAt),
	)
	metrics.ObserveRecordWrite("log", nil)
	return nil
}
