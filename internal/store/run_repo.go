package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that no run exists for the id.
var ErrNotFound = errors.New("product run not found")

// RunStatus mirrors the product_runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunRunning, RunDone, RunFailed:
		return true
	}
	return false
}

// ProductRun is the persisted view of one product request.
type ProductRun struct {
	ID           uuid.UUID  `json:"id"`
	URL          string     `json:"url"`
	Retailer     string     `json:"retailer"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Emitted      int        `json:"emitted"`
	Skipped      int        `json:"skipped"`
	ErrorMessage *string    `json:"error,omitempty"`
}

// RunRepository persists product run lifecycle transitions.
type RunRepository interface {
	// StartRun records a run as running. Restarting an existing run keeps
	// its original start time.
	StartRun(ctx context.Context, id uuid.UUID, url, retailer string, at time.Time) error
	// CompleteRun stores the terminal status and variant counts.
	CompleteRun(ctx context.Context, id uuid.UUID, at time.Time, status RunStatus, emitted, skipped int, errMsg *string) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (ProductRun, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]ProductRun, error)
}
