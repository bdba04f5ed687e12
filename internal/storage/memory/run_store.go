package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/retail-variant-crawler/internal/store"
)

// RunStore implements store.RunRepository in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.ProductRun
}

// NewRunStore returns an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.ProductRun)}
}

// StartRun marks the run running, keeping the first start time.
func (s *RunStore) StartRun(_ context.Context, id uuid.UUID, url, retailer string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		run = store.ProductRun{ID: id, StartedAt: at}
	}
	run.URL = url
	run.Retailer = retailer
	run.Status = store.RunRunning
	run.FinishedAt = nil
	run.ErrorMessage = nil
	s.runs[id] = run
	return nil
}

// CompleteRun stores the terminal state. Completing an unknown run creates it.
func (s *RunStore) CompleteRun(
	_ context.Context,
	id uuid.UUID,
	at time.Time,
	status store.RunStatus,
	emitted, skipped int,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		run = store.ProductRun{ID: id, StartedAt: at}
	}
	finished := at
	run.FinishedAt = &finished
	run.Status = status
	run.Emitted = emitted
	run.Skipped = skipped
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[id] = run
	return nil
}

// GetRun returns the run or store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (store.ProductRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ProductRun{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns pages through runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.ProductRun, error) {
	s.mu.RLock()
	out := make([]store.ProductRun, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []store.ProductRun{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
