package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes Hub buffering. Zero values take the defaults below.
type Config struct {
	// BufferSize bounds the pending event channel (default 1024).
	BufferSize int
	// MaxBatchEvents flushes a batch once it reaches this size (default 256).
	MaxBatchEvents int
	// MaxBatchWait flushes a non-empty batch after this long (default 500ms).
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call (default 10s).
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropWarnEvery         = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Stats reports hub counters.
type Stats struct {
	Accepted int64
	Dropped  int64
	Invalid  int64
	Flushed  int64
}

// Hub batches events and fans them out to sinks on a background goroutine.
// Emit never blocks: when the buffer is full the event is dropped and
// counted.
type Hub struct {
	cfg    Config
	sinks  []Sink
	in     chan Event
	quit   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	accepted atomic.Int64
	dropped  atomic.Int64
	invalid  atomic.Int64
	flushed  atomic.Int64

	lastDropWarn atomic.Int64
	closeCtx     context.Context
}

// NewHub starts a hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:   cfg,
		sinks: append([]Sink(nil), sinks...),
		in:    make(chan Event, cfg.BufferSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go h.loop()
	return h
}

// Emit queues evt for delivery. Invalid events and events emitted after
// Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.invalid.Add(1)
		h.cfg.Logger.Debug("discarding invalid progress event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.in <- evt:
		h.accepted.Add(1)
	default:
		n := h.dropped.Add(1)
		h.warnDropped(n)
	}
}

func (h *Hub) warnDropped(total int64) {
	now := time.Now().UnixNano()
	last := h.lastDropWarn.Load()
	if now-last < dropWarnEvery.Nanoseconds() {
		return
	}
	if h.lastDropWarn.CompareAndSwap(last, now) {
		h.cfg.Logger.Warn("progress buffer full, dropping events", zap.Int64("dropped_total", total))
	}
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Accepted: h.accepted.Load(),
		Dropped:  h.dropped.Load(),
		Invalid:  h.invalid.Load(),
		Flushed:  h.flushed.Load(),
	}
}

// Close stops intake, delivers whatever is still buffered, closes the sinks
// and waits for the background goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.once.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close progress hub: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	for {
		select {
		case evt := <-h.in:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.deliver(batch)
			}
		case <-ticker.C:
			batch = h.deliver(batch)
		case <-h.quit:
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.in:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.deliver(batch)
			}
		default:
			h.deliver(batch)
			h.closeSinks()
			return
		}
	}
}

// deliver hands a copy of batch to every sink and returns batch emptied.
func (h *Hub) deliver(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.cfg.Logger.Warn("progress sink failed", zap.Int("batch", len(out)), zap.Error(err))
		}
		cancel()
	}
	h.flushed.Add(int64(len(out)))
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.cfg.Logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
