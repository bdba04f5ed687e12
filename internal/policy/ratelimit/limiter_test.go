package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesRequestsPerDomain(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://shop.example.com/p/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.shop.example.com/p/2"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDomainsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.com/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterOverrideAndCancel(t *testing.T) {
	t.Parallel()

	l := New(Config{
		DefaultRPS: 0,
		Domains:    map[string]Bucket{"WWW.Slow.example.com": {RPS: 0.01, Burst: 1}},
	})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example.com/a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.example.com/b"))

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://fast.example.com/x"))
	}
}
