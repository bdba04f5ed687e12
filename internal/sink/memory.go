package sink

import (
	"context"
	"sync"

	"github.com/JakeFAU/retail-variant-crawler/internal/metrics"
	"github.com/JakeFAU/retail-variant-crawler/internal/variant"
)

// Memory keeps records in process, in push order.
type Memory struct {
	mu      sync.RWMutex
	records []variant.Record
}

// NewMemory returns an empty sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Push implements variant.Sink.
func (m *Memory) Push(_ context.Context, record variant.Record) error {
	m.mu.Lock()
	m.records = append(m.records, record)
	m.mu.Unlock()
	metrics.ObserveRecordWrite("memory", nil)
	return nil
}

// Records returns a copy of everything pushed so far.
func (m *Memory) Records() []variant.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]variant.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Group returns the records of one product.
func (m *Memory) Group(groupURL string) []variant.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []variant.Record
	for _, r := range m.records {
		if r.VariantGroupURL == groupURL {
			out = append(out, r)
		}
	}
	return out
}
