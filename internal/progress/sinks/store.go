package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/retail-variant-crawler/internal/progress"
	"github.com/JakeFAU/retail-variant-crawler/internal/store"
)

// StoreSink persists product run transitions through a store.RunRepository.
// Variant-level events are not stored; terminal events carry the totals.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink returns a sink writing to repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order and stops at the first repository
// error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		id := evt.RequestUUID()
		switch evt.Stage {
		case progress.StageProductStart:
			if err := s.repo.StartRun(ctx, id, evt.URL, evt.Site, evt.TS); err != nil {
				return fmt.Errorf("start run %s: %w", id, err)
			}
		case progress.StageProductDone:
			if err := s.repo.CompleteRun(ctx, id, evt.TS, store.RunDone, evt.Emitted, evt.Skipped, nil); err != nil {
				return fmt.Errorf("complete run %s: %w", id, err)
			}
		case progress.StageProductError:
			var note *string
			if evt.Note != "" {
				msg := evt.Note
				note = &msg
			}
			if err := s.repo.CompleteRun(ctx, id, evt.TS, store.RunFailed, evt.Emitted, evt.Skipped, note); err != nil {
				return fmt.Errorf("complete run %s: %w", id, err)
			}
		case progress.StageSessionBurned:
			s.logger.Debug("session burned", zap.String("request_id", id.String()), zap.String("note", evt.Note))
		}
	}
	return nil
}

// Close is a no-op.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
