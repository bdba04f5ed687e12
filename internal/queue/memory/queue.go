// Package memory provides the in-process product queue used by the CLI and
// single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
)

// Queue is a bounded FIFO of product requests. After Close, Enqueue fails
// and Dequeue keeps returning buffered requests until the queue is drained.
// The buffer channel is never closed; Close closes done instead.
type Queue struct {
	ch        chan crawler.ProductRequest
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue returns a queue holding at most capacity pending requests.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan crawler.ProductRequest, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue blocks until there is room, ctx ends or the queue is closed.
func (q *Queue) Enqueue(ctx context.Context, req crawler.ProductRequest) error {
	select {
	case <-q.done:
		return crawler.ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return crawler.ErrQueueClosed
	case q.ch <- req:
		return nil
	}
}

// Dequeue returns the next request, or crawler.ErrQueueClosed once the queue
// is closed and empty.
func (q *Queue) Dequeue(ctx context.Context) (crawler.ProductRequest, error) {
	select {
	case <-ctx.Done():
		return crawler.ProductRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req := <-q.ch:
		return req, nil
	case <-q.done:
		select {
		case req := <-q.ch:
			return req, nil
		default:
			return crawler.ProductRequest{}, crawler.ErrQueueClosed
		}
	}
}

// Len reports the number of buffered requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops intake and releases every Enqueue blocked on a full queue.
// It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
