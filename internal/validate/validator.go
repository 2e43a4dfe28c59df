// Package validate checks provider analysis results against sanity
// ranges and merges multi-provider answers into a consensus result.
//
// The plausibility bounds are tuned to residential property sizes; a
// different feature domain needs different ranges.
package validate

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

// Defaults for the residential property domain.
const (
	DefaultConfidenceThreshold = 0.6
	DefaultMaxRetries          = 2

	maxLawnSqft = 1_000_000
	maxCount    = 500
	maxLengthFt = 10_000
)

// Config tunes the validator.
type Config struct {
	ConfidenceThreshold float64
	MaxRetries          int
}

// Validator checks results and tracks per-job retry budgets.
type Validator struct {
	cfg Config

	mu      sync.Mutex
	retries map[string]int
}

// New creates a validator, filling zero config fields with defaults.
func New(cfg Config) *Validator {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Validator{cfg: cfg, retries: make(map[string]int)}
}

// Check validates one result. High-severity findings (missing critical
// fields, out-of-range values) fail the result and recommend a bounded
// retry when autoRetry is set, manual review otherwise. Medium
// findings are accepted with a logged warning.
func (v *Validator) Check(result *models.AnalysisResult, autoRetry bool) models.ValidationReport {
	var high, medium []string
	f := result.Features

	if f.LawnSqft == nil {
		high = append(high, "missing critical field lawn_sqft")
	} else if *f.LawnSqft < 0 || *f.LawnSqft > maxLawnSqft {
		high = append(high, fmt.Sprintf("lawn_sqft %.0f outside [0, %d]", *f.LawnSqft, maxLawnSqft))
	}
	if f.TreeCount == nil {
		high = append(high, "missing critical field tree_count")
	} else if *f.TreeCount < 0 || *f.TreeCount > maxCount {
		high = append(high, fmt.Sprintf("tree_count %d outside [0, %d]", *f.TreeCount, maxCount))
	}
	if f.ShrubCount != nil && (*f.ShrubCount < 0 || *f.ShrubCount > maxCount) {
		high = append(high, fmt.Sprintf("shrub_count %d outside [0, %d]", *f.ShrubCount, maxCount))
	}
	if f.DebrisPiles != nil && (*f.DebrisPiles < 0 || *f.DebrisPiles > maxCount) {
		high = append(high, fmt.Sprintf("debris_piles %d outside [0, %d]", *f.DebrisPiles, maxCount))
	}
	if f.FenceLengthFt != nil && (*f.FenceLengthFt < 0 || *f.FenceLengthFt > maxLengthFt) {
		high = append(high, fmt.Sprintf("fence_length_ft %.0f outside [0, %d]", *f.FenceLengthFt, maxLengthFt))
	}
	if f.HedgeLengthFt != nil && (*f.HedgeLengthFt < 0 || *f.HedgeLengthFt > maxLengthFt) {
		high = append(high, fmt.Sprintf("hedge_length_ft %.0f outside [0, %d]", *f.HedgeLengthFt, maxLengthFt))
	}

	if result.Confidence < v.cfg.ConfidenceThreshold {
		medium = append(medium, fmt.Sprintf("confidence %.2f below threshold %.2f", result.Confidence, v.cfg.ConfidenceThreshold))
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		high = append(high, fmt.Sprintf("confidence %.2f outside [0, 1]", result.Confidence))
	}

	if len(high) > 0 {
		rec := models.RecommendManualReview
		if autoRetry && v.retryAllowed(result.JobID) {
			rec = models.RecommendRetry
		}
		return models.ValidationReport{
			Passed:         false,
			Issues:         append(high, medium...),
			Severity:       models.SeverityHigh,
			Recommendation: rec,
		}
	}

	if len(medium) > 0 {
		log.Warn().
			Str("job", result.JobID).
			Str("provider", result.Provider).
			Strs("issues", medium).
			Msg("result accepted with anomalies")
		return models.ValidationReport{
			Passed:         true,
			Issues:         medium,
			Severity:       models.SeverityMedium,
			Recommendation: models.RecommendAccept,
		}
	}

	return models.ValidationReport{
		Passed:         true,
		Severity:       models.SeverityLow,
		Recommendation: models.RecommendAccept,
	}
}

// retryAllowed consumes one unit of the per-job retry budget.
func (v *Validator) retryAllowed(jobID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.retries[jobID] >= v.cfg.MaxRetries {
		return false
	}
	v.retries[jobID]++
	return true
}

// Forget releases the retry counter for a finished job.
func (v *Validator) Forget(jobID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.retries, jobID)
}
