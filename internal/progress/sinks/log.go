package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/retail-variant-crawler/internal/progress"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger; nil uses a no-op logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event. Skips and errors log at warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("request_id", evt.RequestUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("site", evt.Site),
			zap.String("url", evt.URL),
		}
		switch evt.Stage {
		case progress.StageVariantEmitted:
			fields = append(fields, zap.Int("variant", evt.Variant))
		case progress.StageVariantSkipped, progress.StageProductError:
			fields = append(fields, zap.String("class", evt.Class))
		}
		if evt.Stage.Terminal() {
			fields = append(fields,
				zap.Int("emitted", evt.Emitted),
				zap.Int("skipped", evt.Skipped),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageVariantSkipped, progress.StageProductError, progress.StageSessionBurned:
			s.logger.Warn("progress", fields...)
		default:
			s.logger.Info("progress", fields...)
		}
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
