package variant

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/retail-variant-crawler/internal/clock/system"
)

// Extractor reads the detail record off the page as it currently stands.
type Extractor interface {
	Extract(ctx context.Context) (Product, error)
}

// Sink receives emitted records.
type Sink interface {
	Push(ctx context.Context, record Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, record Record) error

// Push calls f.
func (f SinkFunc) Push(ctx context.Context, record Record) error {
	return f(ctx, record)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Emitter turns a resolved page state into a Record and pushes it.
type Emitter struct {
	extractor Extractor
	sink      Sink
	clock     Clock
	retailer  string
	session   string
}

// NewEmitter builds an Emitter. A nil clock uses the system clock.
func NewEmitter(extractor Extractor, sink Sink, clock Clock, retailer, session string) *Emitter {
	if clock == nil {
		clock = system.New()
	}
	return &Emitter{
		extractor: extractor,
		sink:      sink,
		clock:     clock,
		retailer:  retailer,
		session:   session,
	}
}

// Emit extracts the current page, tags the product with its group and
// sequence number and pushes it to the sink exactly once. Extraction errors
// wrap ErrExtraction; sink errors are returned as *SinkError.
func (e *Emitter) Emit(ctx context.Context, groupURL string, seq int, path SelectionPath) (Record, error) {
	product, err := e.extractor.Extract(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	record := Record{
		Product:         product,
		VariantGroupURL: groupURL,
		Variant:         seq,
		Path:            path.Clone(),
		FetchedAt:       e.clock.Now(),
		RetailerDomain:  e.retailer,
		SessionID:       e.session,
	}
	if err := e.sink.Push(ctx, record); err != nil {
		return Record{}, &SinkError{Err: err}
	}
	return record, nil
}
