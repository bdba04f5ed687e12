package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/retail-variant-crawler/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	id := uuid.New()
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.GetRun(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.StartRun(ctx, id, "https://shop.test/p/1", "shop.test", start))
	require.NoError(t, s.StartRun(ctx, id, "https://shop.test/p/1", "shop.test", start.Add(time.Minute)))
	msg := "captcha"
	require.NoError(t, s.CompleteRun(ctx, id, start.Add(2*time.Minute), store.RunFailed, 3, 1, &msg))

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, start, run.StartedAt)
	assert.Equal(t, store.RunFailed, run.Status)
	assert.Equal(t, 3, run.Emitted)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "captcha", *run.ErrorMessage)
	require.NotNil(t, run.FinishedAt)
}

func TestRunStoreList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewRunStore()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, id := range ids {
		require.NoError(t, s.StartRun(ctx, id, "u", "shop.test", base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, s.CompleteRun(ctx, ids[0], base.Add(time.Hour), store.RunDone, 1, 0, nil))

	all, err := s.ListRuns(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)

	running := store.RunRunning
	page, err := s.ListRuns(ctx, &running, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	empty, err := s.ListRuns(ctx, nil, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
