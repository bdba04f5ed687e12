package sink

import (
	"context"
	"errors"

	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

// Multi pushes every record to each of its sinks in order. All sinks are
// attempted; their errors are joined.
type Multi []variant.Sink

// NewMulti drops nil entries and returns the fan-out.
func NewMulti(sinks ...variant.Sink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Push implements variant.Sink.
func (m Multi) Push(ctx context.Context, record variant.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Push(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
