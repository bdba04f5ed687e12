package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(event(StageProductStart))
	hub.Emit(event(StageProductDone))

	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushesOnTick(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: 20 * time.Millisecond}, sink)
	defer func() { require.NoError(t, hub.Close(context.Background())) }()

	hub.Emit(event(StageProductStart))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(event(StageProductStart))
	hub.Emit(event(StageProductError))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
	assert.True(t, sink.Closed())
	assert.Equal(t, int64(2), hub.Stats().Flushed)

	hub.Emit(event(StageProductStart))
	assert.Equal(t, int64(2), hub.Stats().Accepted)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{cfg: Config{}.withDefaults(), in: make(chan Event)}
	start := time.Now()
	hub.Emit(event(StageProductStart))
	hub.Emit(event(StageProductStart))

	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(2), hub.Stats().Dropped)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	hub.Emit(Event{Stage: StageProductStart})
	require.NoError(t, hub.Close(context.Background()))

	assert.Empty(t, sink.Batches())
	assert.Equal(t, int64(1), hub.Stats().Invalid)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := RequestIDFrom(uuid.NewString())
	now := time.Now()
	cases := []struct {
		name string
		evt  Event
		ok   bool
	}{
		{"start", Event{RequestID: id, TS: now, Stage: StageProductStart}, true},
		{"missing id", Event{TS: now, Stage: StageProductStart}, false},
		{"missing ts", Event{RequestID: id, Stage: StageProductStart}, false},
		{"emitted first variant", Event{RequestID: id, TS: now, Stage: StageVariantEmitted}, true},
		{"negative variant", Event{RequestID: id, TS: now, Stage: StageVariantEmitted, Variant: -1}, false},
		{"skipped without class", Event{RequestID: id, TS: now, Stage: StageVariantSkipped}, false},
		{"burned without site", Event{RequestID: id, TS: now, Stage: StageSessionBurned}, false},
		{"negative duration", Event{RequestID: id, TS: now, Stage: StageProductDone, Dur: -1}, false},
		{"unknown", Event{RequestID: id, TS: now, Stage: "NOPE"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRequestIDFrom(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	assert.Equal(t, [16]byte(id), RequestIDFrom(id.String()))
	assert.Equal(t, RequestIDFrom("job-7"), RequestIDFrom("job-7"))
	assert.NotEqual(t, [16]byte{}, RequestIDFrom("job-7"))
	assert.True(t, StageProductDone.Terminal())
	assert.False(t, StageVariantEmitted.Terminal())
}

type captureSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *captureSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func event(stage Stage) Event {
	return Event{
		RequestID: RequestIDFrom(uuid.NewString()),
		TS:        time.Now(),
		Stage:     stage,
		Site:      "shop.example.com",
	}
}
