package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/retail-variant-crawler/internal/store"
)

// RunStore implements store.RunRepository over a product_runs table.
type RunStore struct {
	db    DB
	table string
}

// NewRunStore builds a store on table (default "product_runs").
func NewRunStore(db DB, table string) (*RunStore, error) {
	if db == nil {
		return nil, errors.New("postgres pool is required")
	}
	name, err := tableName(table, "product_runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: name}, nil
}

// StartRun inserts the run or flips it back to running.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, url, retailer string, at time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, retailer, status, started_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status, finished_at = NULL, error_message = NULL`, s.table)
	if _, err := s.db.Exec(ctx, query, id, url, retailer, string(store.RunRunning), at); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// CompleteRun writes the terminal state.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	at time.Time,
	status store.RunStatus,
	emitted, skipped int,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, emitted = $3, skipped = $4, error_message = $5
WHERE id = $6`, s.table)
	tag, err := s.db.Exec(ctx, query, at, string(status), emitted, skipped, errMsg, id)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.ProductRun, error) {
	query := fmt.Sprintf(`
SELECT id, url, retailer, status, started_at, finished_at, emitted, skipped, error_message
FROM %s WHERE id = $1`, s.table)
	run, err := scanRun(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ProductRun{}, store.ErrNotFound
	}
	if err != nil {
		return store.ProductRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns pages through runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.ProductRun, error) {
	query := fmt.Sprintf(`
SELECT id, url, retailer, status, started_at, finished_at, emitted, skipped, error_message
FROM %s
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`, s.table)
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.db.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.ProductRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.ProductRun, error) {
	var (
		run    store.ProductRun
		id     string
		status string
	)
	err := row.Scan(
		&id,
		&run.URL,
		&run.Retailer,
		&status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Emitted,
		&run.Skipped,
		&run.ErrorMessage,
	)
	if err != nil {
		return run, err
	}
	run.Status = store.RunStatus(status)
	run.ID, err = uuid.Parse(id)
	return run, err
}
