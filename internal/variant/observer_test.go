package variant

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollingObserver_ReturnsChangedState(t *testing.T) {
	t.Parallel()

	var reads atomic.Int32
	observer := NewPollingObserver(func(context.Context) (Snapshot, error) {
		if reads.Add(1) < 3 {
			return "sku:old", nil
		}
		return "sku:new", nil
	}, time.Millisecond)

	got, err := observer.WaitForChange(context.Background(), "sku:old", time.Second)
	require.NoError(t, err)
	require.Equal(t, Snapshot("sku:new"), got)
	require.GreaterOrEqual(t, reads.Load(), int32(3))
}

func TestPollingObserver_TimeoutIsNotAnError(t *testing.T) {
	t.Parallel()

	observer := NewPollingObserver(func(context.Context) (Snapshot, error) {
		return "sku:same", nil
	}, time.Millisecond)

	start := time.Now()
	got, err := observer.WaitForChange(context.Background(), "sku:same", 15*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, Snapshot("sku:same"), got)
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestPollingObserver_ReadErrorPropagates(t *testing.T) {
	t.Parallel()

	var reads atomic.Int32
	observer := NewPollingObserver(func(context.Context) (Snapshot, error) {
		if reads.Add(1) > 1 {
			return "", ErrPageBroken
		}
		return "sku:a", nil
	}, time.Millisecond)

	got, err := observer.WaitForChange(context.Background(), "sku:a", time.Second)
	require.ErrorIs(t, err, ErrPageBroken)
	require.Equal(t, Snapshot("sku:a"), got)
}

func TestPollingObserver_ContextCancel(t *testing.T) {
	t.Parallel()

	observer := NewPollingObserver(func(context.Context) (Snapshot, error) {
		return "sku:a", nil
	}, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := observer.WaitForChange(ctx, "sku:a", time.Minute)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPollingObserver_ZeroTimeoutReadsOnce(t *testing.T) {
	t.Parallel()

	observer := NewPollingObserver(func(context.Context) (Snapshot, error) {
		return "sku:a", nil
	}, 0)
	require.Equal(t, DefaultPollInterval, observer.interval)

	got, err := observer.WaitForChange(context.Background(), "sku:a", 0)
	require.NoError(t, err)
	require.Equal(t, Snapshot("sku:a"), got)
}
