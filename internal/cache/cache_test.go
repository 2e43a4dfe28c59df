package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yardsight/yardsight/analysis-engine/internal/cache"
	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCache("redis://" + mr.Addr())
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))
	return c, mr
}

func TestJobStatusRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	status, ok, err := c.GetJobStatus(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, status)

	require.NoError(t, c.SetJobStatus(ctx, "j1", cache.StatusRunning, time.Minute))

	status, ok, err = c.GetJobStatus(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, cache.StatusRunning, status)
}

func TestJobStatusExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetJobStatus(ctx, "j1", cache.StatusQueued, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.GetJobStatus(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResultRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	lawn := 4_800.0
	want := &models.AnalysisResult{
		JobID:      "j1",
		Provider:   "openai",
		Features:   models.PropertyFeatures{LawnSqft: &lawn, HasPool: true},
		Confidence: 0.88,
	}
	require.NoError(t, c.SetResult(ctx, want, time.Minute))

	got, ok, err := c.GetResult(ctx, "j1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Provider, got.Provider)
	assert.Equal(t, lawn, *got.Features.LawnSqft)
	assert.True(t, got.Features.HasPool)

	_, ok, err = c.GetResult(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetJobStatus(ctx, "j1", cache.StatusCompleted, time.Minute))
	require.NoError(t, c.Delete(ctx, cache.JobStatusKey("j1")))

	_, ok, err := c.GetJobStatus(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNoopCache(t *testing.T) {
	var c cache.Cache = cache.Noop{}
	ctx := context.Background()

	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.SetJobStatus(ctx, "j1", cache.StatusQueued, time.Minute))
	_, ok, err := c.GetJobStatus(ctx, "j1")
	assert.NoError(t, err)
	assert.False(t, ok)
}
