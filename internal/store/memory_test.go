package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yardsight/yardsight/analysis-engine/internal/store"
	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &models.Job{ID: "j1", Address: "41 Maple St", Priority: models.PriorityHigh}
	require.NoError(t, s.SaveJob(ctx, job))

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "41 Maple St", got.Address)
	assert.Equal(t, models.PriorityHigh, got.Priority)

	_, err = s.GetJob(ctx, "missing")
	assert.Error(t, err)
}

func TestSaveJobRequiresID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SaveJob(context.Background(), &models.Job{}))
}

func TestGetJobReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveJob(ctx, &models.Job{ID: "j1", Address: "original"}))

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	got.Address = "mutated"

	again, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Address)
}

func TestListResultsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveResult(ctx, &models.AnalysisResult{
			JobID:     fmt.Sprintf("j%d", i),
			CreatedAt: time.Now().UTC(),
		}))
	}

	results, err := s.ListResults(ctx, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "j4", results[0].JobID)
	assert.Equal(t, "j3", results[1].JobID)
	assert.Equal(t, "j2", results[2].JobID)

	all, err := s.ListResults(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestSaveResultUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveResult(ctx, &models.AnalysisResult{JobID: "j1", Confidence: 0.5}))
	require.NoError(t, s.SaveResult(ctx, &models.AnalysisResult{JobID: "j1", Confidence: 0.9}))

	got, err := s.GetResult(ctx, "j1")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)

	results, err := s.ListResults(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDeleteResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveResult(ctx, &models.AnalysisResult{JobID: "j1"}))
	require.NoError(t, s.DeleteResult(ctx, "j1"))

	_, err := s.GetResult(ctx, "j1")
	assert.Error(t, err)
	assert.Error(t, s.DeleteResult(ctx, "j1"))

	results, err := s.ListResults(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHistoryEviction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 1_050; i++ {
		require.NoError(t, s.SaveResult(ctx, &models.AnalysisResult{JobID: fmt.Sprintf("j%d", i)}))
	}

	results, err := s.ListResults(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1_000)

	// The oldest results were evicted, the newest survived.
	_, err = s.GetResult(ctx, "j0")
	assert.Error(t, err)
	_, err = s.GetResult(ctx, "j1049")
	assert.NoError(t, err)
}
