package progress

import "context"

// Sink consumes batches of events. Consume may be called many times and
// must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events. Hub implements it; Discard drops them.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f.
func (f EmitterFunc) Emit(evt Event) { f(evt) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})
