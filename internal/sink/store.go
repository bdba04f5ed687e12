package sink

import (
	"context"
	"fmt"

	"github.com/JakeFAU/retail-variant-crawler/internal/metrics"
	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

// VariantInserter persists a single record. storage/postgres.VariantStore
// satisfies it.
type VariantInserter interface {
	InsertVariant(ctx context.Context, record variant.Record) error
}

// StoreSink writes records to a database.
type StoreSink struct {
	store VariantInserter
}

// NewStoreSink wraps store.
func NewStoreSink(store VariantInserter) (*StoreSink, error) {
	if store == nil {
		return nil, fmt.Errorf("variant store is required")
	}
	return &StoreSink{store: store}, nil
}

// Push implements variant.Sink.
func (s *StoreSink) Push(ctx context.Context, record variant.Record) error {
	err := s.store.InsertVariant(ctx, record)
	metrics.ObserveRecordWrite("postgres", err)
	return err
}
