package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
	"github.com/JakeFAU/retail-variant-crawler/internal/queue/memory"
)

type drainingWorker struct {
	queue *memory.Queue
	seen  *atomic.Int64
}

func (w drainingWorker) Run(ctx context.Context) {
	for {
		if _, err := w.queue.Dequeue(ctx); err != nil {
			return
		}
		w.seen.Add(1)
	}
}

func TestDispatcherReturnsWhenWorkersExit(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(8)
	var seen atomic.Int64
	d := New(q, []Runner{drainingWorker{q, &seen}, drainingWorker{q, &seen}})

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Enqueue(context.Background(), crawler.ProductRequest{ID: "r"}))
	}
	q.Close()

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not return after the queue drained")
	}
	assert.Equal(t, int64(5), seen.Load())
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	var seen atomic.Int64
	d := New(q, []Runner{drainingWorker{q, &seen}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, crawler.ProductRequest) error { return errors.New("boom") }

func (failingQueue) Dequeue(context.Context) (crawler.ProductRequest, error) {
	return crawler.ProductRequest{}, crawler.ErrQueueClosed
}

func TestDispatcherEnqueueWrapsErrors(t *testing.T) {
	t.Parallel()

	err := New(failingQueue{}, nil).Enqueue(context.Background(), crawler.ProductRequest{ID: "x"})
	require.EqualError(t, err, "queue enqueue: boom")
}
