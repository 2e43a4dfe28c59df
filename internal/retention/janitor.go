// Package retention implements the result retention policy for the
// analysis engine. The janitor periodically archives and purges
// analysis results older than the configured window so the hot store
// holds only recent history.
//
// Archive failures are fail-safe: results are NOT deleted if archiving
// fails. With no archiver configured, expired results are purged
// outright.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yardsight/yardsight/analysis-engine/internal/store"
	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

// DefaultMaxAge is the default result retention window.
const DefaultMaxAge = 7 * 24 * time.Hour

// Archiver writes expired results to durable storage before they are
// purged from the hot store.
type Archiver interface {
	Kind() string
	ArchiveResults(ctx context.Context, results []models.AnalysisResult) (string, error)
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Archived int
	Purged   int
	Errors   []error
}

// Janitor periodically archives and purges expired analysis results.
type Janitor struct {
	store    store.Store
	archiver Archiver
	interval time.Duration
	maxAge   time.Duration

	now func() time.Time
}

// NewJanitor creates a retention janitor that runs on the given
// interval. archiver may be nil, in which case expired results are
// purged without archiving.
func NewJanitor(s store.Store, archiver Archiver, interval, maxAge time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Janitor{
		store:    s,
		archiver: archiver,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Start runs the janitor in a background goroutine. It blocks until
// ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	backend := "none"
	if j.archiver != nil {
		backend = j.archiver.Kind()
	}
	log.Info().
		Dur("interval", j.interval).
		Dur("max_age", j.maxAge).
		Str("archiver", backend).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	start := j.now()

	expired, err := j.findExpired(ctx, start.Add(-j.maxAge))
	if err != nil {
		log.Warn().Err(err).Msg("Retention janitor: failed to list results")
		stats.Errors = append(stats.Errors, err)
		return stats
	}
	if len(expired) == 0 {
		return stats
	}

	if j.archiver != nil {
		uri, err := j.archiver.ArchiveResults(ctx, expired)
		if err != nil {
			log.Warn().Err(err).
				Str("backend", j.archiver.Kind()).
				Int("count", len(expired)).
				Msg("Archive failed, skipping purge")
			stats.Errors = append(stats.Errors, err)
			return stats
		}
		stats.Archived = len(expired)
		log.Debug().Str("uri", uri).Int("count", len(expired)).Msg("Expired results archived")
	}

	for _, r := range expired {
		if err := j.store.DeleteResult(ctx, r.JobID); err != nil {
			log.Warn().Err(err).Str("job", r.JobID).Msg("Failed to delete expired result")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.Purged++
	}

	log.Info().
		Int("archived", stats.Archived).
		Int("purged", stats.Purged).
		Dur("elapsed", time.Since(start)).
		Msg("Retention cycle complete")
	return stats
}

func (j *Janitor) findExpired(ctx context.Context, cutoff time.Time) ([]models.AnalysisResult, error) {
	results, err := j.store.ListResults(ctx, 0)
	if err != nil {
		return nil, err
	}
	var expired []models.AnalysisResult
	for _, r := range results {
		if r.CreatedAt.Before(cutoff) {
			expired = append(expired, r)
		}
	}
	return expired, nil
}
