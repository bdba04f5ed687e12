package variant

import (
	"context"
	"fmt"
	"time"
)

// DefaultPollInterval is how often a PollingObserver re-reads page state.
const DefaultPollInterval = 100 * time.Millisecond

// Observer fingerprints the page and waits for selections to settle.
type Observer interface {
	// Capture returns the current page fingerprint.
	Capture(ctx context.Context) (Snapshot, error)
	// WaitForChange blocks until the fingerprint differs from prev or timeout
	// elapses. A timeout is not an error: the last seen state is returned.
	WaitForChange(ctx context.Context, prev Snapshot, timeout time.Duration) (Snapshot, error)
}

// StateFunc reads a fingerprint off the page.
type StateFunc func(ctx context.Context) (Snapshot, error)

// PollingObserver implements Observer by polling a StateFunc.
type PollingObserver struct {
	read     StateFunc
	interval time.Duration
}

// NewPollingObserver builds an observer around read. A non-positive
// interval selects DefaultPollInterval.
func NewPollingObserver(read StateFunc, interval time.Duration) *PollingObserver {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingObserver{read: read, interval: interval}
}

// Capture implements Observer.
func (o *PollingObserver) Capture(ctx context.Context) (Snapshot, error) {
	snap, err := o.read(ctx)
	if err != nil {
		return "", fmt.Errorf("capture page state: %w", err)
	}
	return snap, nil
}

// WaitForChange implements Observer. Errors are returned only when the page
// can no longer be read or ctx is cancelled.
func (o *PollingObserver) WaitForChange(ctx context.Context, prev Snapshot, timeout time.Duration) (Snapshot, error) {
	last, err := o.Capture(ctx)
	if err != nil {
		return prev, err
	}
	if last != prev || timeout <= 0 {
		return last, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return last, fmt.Errorf("wait for page change: %w", ctx.Err())
		case <-deadline.C:
			return last, nil
		case <-ticker.C:
		}
		last, err = o.Capture(ctx)
		if err != nil {
			return prev, err
		}
		if last != prev {
			return last, nil
		}
	}
}
