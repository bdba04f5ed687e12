// Package dispatcher fans product requests out to a pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/retail-variant-crawler/internal/crawler"
)

// Runner processes queue items until its context ends or the queue closes.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher owns the queue and the workers draining it.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{queue: queue, workers: workers}
}

// Run starts every worker and returns once all of them have exited.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue submits a product request.
func (d *Dispatcher) Enqueue(ctx context.Context, req crawler.ProductRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
