package validate

import (
	"fmt"
	"math"
	"strings"

	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

// consensusBonus is added to the averaged confidence when two or more
// providers agree on a job; the merged confidence is capped below 1.
const (
	consensusBonus = 0.1
	confidenceCap  = 0.98
)

// Merge combines two or more same-job results into one consensus
// result: numeric fields are averaged and rounded, booleans are
// OR-combined, length-like fields take the maximum, notes are
// concatenated and tagged by source. With fewer than two inputs the
// single input (or zero value) is returned unchanged.
func Merge(results []models.AnalysisResult) models.AnalysisResult {
	switch len(results) {
	case 0:
		return models.AnalysisResult{}
	case 1:
		return results[0]
	}

	merged := models.AnalysisResult{
		JobID:     results[0].JobID,
		Provider:  "consensus",
		Consensus: true,
		CreatedAt: results[0].CreatedAt,
	}

	merged.Features.LawnSqft = meanFloat(results, func(f models.PropertyFeatures) *float64 { return f.LawnSqft })
	merged.Features.TreeCount = meanInt(results, func(f models.PropertyFeatures) *int { return f.TreeCount })
	merged.Features.ShrubCount = meanInt(results, func(f models.PropertyFeatures) *int { return f.ShrubCount })
	merged.Features.DebrisPiles = meanInt(results, func(f models.PropertyFeatures) *int { return f.DebrisPiles })
	merged.Features.FenceLengthFt = maxFloat(results, func(f models.PropertyFeatures) *float64 { return f.FenceLengthFt })
	merged.Features.HedgeLengthFt = maxFloat(results, func(f models.PropertyFeatures) *float64 { return f.HedgeLengthFt })

	var notes []string
	var confidenceSum float64
	var bestDetections []models.FeatureLocation
	bestConfidence := -1.0
	var sources []string
	for _, r := range results {
		merged.Features.HasPool = merged.Features.HasPool || r.Features.HasPool
		merged.Features.HasDeck = merged.Features.HasDeck || r.Features.HasDeck
		merged.Features.HasDriveway = merged.Features.HasDriveway || r.Features.HasDriveway
		merged.Features.OvergrownYard = merged.Features.OvergrownYard || r.Features.OvergrownYard

		if r.Features.Notes != "" {
			notes = append(notes, fmt.Sprintf("[%s] %s", r.Provider, r.Features.Notes))
		}
		confidenceSum += r.Confidence
		merged.Usage.InputTokens += r.Usage.InputTokens
		merged.Usage.OutputTokens += r.Usage.OutputTokens
		merged.Usage.TotalTokens += r.Usage.TotalTokens
		merged.Usage.Cost += r.Usage.Cost
		if r.Latency > merged.Latency {
			merged.Latency = r.Latency
		}
		// Detections come from the single most confident input; a
		// union would double-count the same physical feature.
		if r.Confidence > bestConfidence {
			bestConfidence = r.Confidence
			bestDetections = r.Detections
		}
		sources = append(sources, r.Provider)
	}
	merged.Features.Notes = strings.Join(notes, " ")
	merged.Detections = bestDetections
	merged.Model = strings.Join(sources, "+")

	merged.Confidence = confidenceSum/float64(len(results)) + consensusBonus
	if merged.Confidence > confidenceCap {
		merged.Confidence = confidenceCap
	}

	return merged
}

func meanFloat(results []models.AnalysisResult, get func(models.PropertyFeatures) *float64) *float64 {
	var sum float64
	var n int
	for _, r := range results {
		if v := get(r.Features); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	v := math.Round(sum / float64(n))
	return &v
}

func meanInt(results []models.AnalysisResult, get func(models.PropertyFeatures) *int) *int {
	var sum float64
	var n int
	for _, r := range results {
		if v := get(r.Features); v != nil {
			sum += float64(*v)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	v := int(math.Round(sum / float64(n)))
	return &v
}

func maxFloat(results []models.AnalysisResult, get func(models.PropertyFeatures) *float64) *float64 {
	var best *float64
	for _, r := range results {
		if v := get(r.Features); v != nil {
			if best == nil || *v > *best {
				cp := *v
				best = &cp
			}
		}
	}
	return best
}
