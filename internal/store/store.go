// Package store keeps the engine's analysis history. Handlers depend
// on the Store interface so the in-memory implementation can be
// swapped for a persistent one without touching the API layer.
package store

import (
	"context"

	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

// Store records submitted jobs and their final results for the
// operator surface.
type Store interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)

	SaveResult(ctx context.Context, result *models.AnalysisResult) error
	GetResult(ctx context.Context, jobID string) (*models.AnalysisResult, error)
	ListResults(ctx context.Context, limit int) ([]models.AnalysisResult, error)
	DeleteResult(ctx context.Context, jobID string) error

	// Ping checks the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}
