// Package session records which proxies a retailer has flagged, so burned
// browser sessions are not reused against the same retailer while they cool
// down.
package session

import (
	"context"
	"sync"
	"time"
)

// Ledger stores the last time a proxy was burned for a retailer.
type Ledger interface {
	Burn(ctx context.Context, proxy, retailer string, at time.Time) error
	LastBurned(ctx context.Context, proxy, retailer string) (time.Time, bool, error)
}

// Cooling reports whether proxy was burned for retailer less than cooldown
// before now. A non-positive cooldown never cools.
func Cooling(ctx context.Context, l Ledger, proxy, retailer string, cooldown time.Duration, now time.Time) (bool, error) {
	if l == nil || cooldown <= 0 {
		return false, nil
	}
	at, ok, err := l.LastBurned(ctx, proxy, retailer)
	if err != nil || !ok {
		return false, err
	}
	return now.Sub(at) < cooldown, nil
}

// MemoryLedger keeps burns in process memory.
type MemoryLedger struct {
	mu    sync.RWMutex
	burns map[string]map[string]time.Time
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{burns: make(map[string]map[string]time.Time)}
}

// Burn records at for (proxy, retailer).
func (m *MemoryLedger) Burn(_ context.Context, proxy, retailer string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRetailer, ok := m.burns[proxy]
	if !ok {
		byRetailer = make(map[string]time.Time)
		m.burns[proxy] = byRetailer
	}
	byRetailer[retailer] = at.UTC()
	return nil
}

// LastBurned returns the recorded burn time, if any.
func (m *MemoryLedger) LastBurned(_ context.Context, proxy, retailer string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.burns[proxy][retailer]
	return at, ok, nil
}
