// Package models defines the shared data model for the YardSight
// analysis engine: jobs, provider descriptors and metrics, analysis
// results, detected features, and parcel geometry.
package models

import (
	"time"
)

// ── Priority ─────────────────────────────────────────────────

// Priority orders jobs in the dispatcher queue. Within a priority
// bucket jobs are serviced FIFO; a job's priority never changes after
// enqueue.
type Priority string

const (
	PriorityUrgent   Priority = "urgent"
	PriorityHigh     Priority = "high"
	PriorityStandard Priority = "standard"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityStandard, PriorityLow:
		return true
	}
	return false
}

// ── Job ──────────────────────────────────────────────────────

// ImagePayload is one encoded image attached to a job.
type ImagePayload struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
	Label    string `json:"label,omitempty"`
}

// ParcelMetadata carries optional parcel-data collaborator output for
// a job: the legal lot polygon plus the rendering parameters of the
// static-map image the detections were made against.
type ParcelMetadata struct {
	Polygon     ParcelPolygon `json:"polygon,omitempty"`
	LotSqft     float64       `json:"lot_sqft,omitempty"`
	APN         string        `json:"apn,omitempty"`
	Zoom        int           `json:"zoom,omitempty"`
	ImageWidth  int           `json:"image_width,omitempty"`
	ImageHeight int           `json:"image_height,omitempty"`
}

// Job is one unit of analysis work. Immutable once created: the
// dispatcher and orchestrator only ever read it.
type Job struct {
	ID                 string          `json:"id"`
	Images             []ImagePayload  `json:"images"`
	Address            string          `json:"address"`
	Latitude           float64         `json:"latitude"`
	Longitude          float64         `json:"longitude"`
	Parcel             *ParcelMetadata `json:"parcel,omitempty"`
	Priority           Priority        `json:"priority"`
	RetryLowConfidence bool            `json:"retry_low_confidence"`
	CreatedAt          time.Time       `json:"created_at"`
}

// ── Providers ───────────────────────────────────────────────

// ProviderDescriptor is the static configuration of one vision
// inference provider. Mutated only through explicit enable/disable.
type ProviderDescriptor struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Model     string        `json:"model"`
	Endpoint  string        `json:"endpoint,omitempty"`
	APIKey    string        `json:"-"`
	CostPer1K float64       `json:"cost_per_1k"`
	Timeout   time.Duration `json:"timeout"`
	Enabled   bool          `json:"enabled"`
}

// TokenUsage is the token accounting for one provider call.
type TokenUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	Cost         float64 `json:"cost"`
}

// ProviderMetrics are the per-provider rolling counters maintained by
// the health monitor. Updated exclusively through Monitor.RecordAttempt.
type ProviderMetrics struct {
	Provider    string    `json:"provider"`
	Requests    int64     `json:"requests"`
	Errors      int64     `json:"errors"`
	AvgLatency  float64   `json:"avg_latency_ms"`
	TotalTokens int64     `json:"total_tokens"`
	TotalCost   float64   `json:"total_cost"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// ErrorRate returns the fraction of failed requests, 0 when no
// requests have been recorded.
func (m ProviderMetrics) ErrorRate() float64 {
	if m.Requests == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Requests)
}

// HealthState is the three-state provider health classification.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
)

// ── Analysis results ────────────────────────────────────────

// PropertyFeatures is the typed payload a vision provider returns for
// a property image. Pointer fields distinguish "absent" from zero so
// the validator can flag missing critical fields.
type PropertyFeatures struct {
	LawnSqft      *float64 `json:"lawn_sqft,omitempty"`
	TreeCount     *int     `json:"tree_count,omitempty"`
	ShrubCount    *int     `json:"shrub_count,omitempty"`
	DebrisPiles   *int     `json:"debris_piles,omitempty"`
	FenceLengthFt *float64 `json:"fence_length_ft,omitempty"`
	HedgeLengthFt *float64 `json:"hedge_length_ft,omitempty"`
	HasPool       bool     `json:"has_pool"`
	HasDeck       bool     `json:"has_deck"`
	HasDriveway   bool     `json:"has_driveway"`
	OvergrownYard bool     `json:"overgrown_yard"`
	Notes         string   `json:"notes,omitempty"`
}

// AnalysisResult is one provider's answer for one job, or the
// consensus synthesized from several.
type AnalysisResult struct {
	JobID      string            `json:"job_id"`
	Provider   string            `json:"provider"`
	Model      string            `json:"model"`
	Features   PropertyFeatures  `json:"features"`
	Detections []FeatureLocation `json:"detections,omitempty"`
	Confidence float64           `json:"confidence"`
	Latency    time.Duration     `json:"latency"`
	Usage      TokenUsage        `json:"usage"`
	Consensus  bool              `json:"consensus,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ── Detections & geometry ───────────────────────────────────

// FeatureLocation is one detected feature positioned in normalized
// image space: X/Y/Width/Height are percentages (0–100) of the image
// dimensions. Polygon, when present, is a segmentation-mask outline in
// the same normalized space.
type FeatureLocation struct {
	Type    string       `json:"type"`
	X       float64      `json:"x"`
	Y       float64      `json:"y"`
	Width   float64      `json:"width,omitempty"`
	Height  float64      `json:"height,omitempty"`
	Polygon [][2]float64 `json:"polygon,omitempty"`
}

// LngLat is one vertex of a parcel ring, longitude first to match the
// GeoJSON axis order used by parcel-data collaborators.
type LngLat struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// ParcelPolygon is the legal lot boundary as an ordered ring of
// geographic vertices. Read-only input to boundary enforcement.
type ParcelPolygon []LngLat

// BoundarySource names which boundary the enforcement stage used.
type BoundarySource string

const (
	BoundaryParcel    BoundarySource = "parcel"
	BoundaryEstimated BoundarySource = "estimated"
	BoundaryNone      BoundarySource = "none"
)

// BoundaryStats describe the last enforcement run. Overwritten each
// call, never accumulated.
type BoundaryStats struct {
	TotalFeatures int            `json:"total_features"`
	Kept          int            `json:"kept"`
	Filtered      int            `json:"filtered"`
	Source        BoundarySource `json:"source"`
}

// ── Validation ──────────────────────────────────────────────

// Severity grades a validation finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Recommendation is the validator's suggested next step.
type Recommendation string

const (
	RecommendAccept       Recommendation = "accept"
	RecommendRetry        Recommendation = "retry"
	RecommendManualReview Recommendation = "manual_review"
)

// ValidationReport is the outcome of checking one analysis result.
type ValidationReport struct {
	Passed         bool           `json:"passed"`
	Issues         []string       `json:"issues,omitempty"`
	Severity       Severity       `json:"severity"`
	Recommendation Recommendation `json:"recommendation"`
}

// ── Status surface ──────────────────────────────────────────

// EngineStatus is the operator-facing snapshot served by the API.
type EngineStatus struct {
	QueueDepth    int                       `json:"queue_depth"`
	ActiveWorkers int                       `json:"active_workers"`
	Providers     map[string]ProviderHealth `json:"providers"`
	Boundary      BoundaryStats             `json:"boundary"`
}

// ProviderHealth pairs a provider's classification with its rolling
// error rate for the dashboard.
type ProviderHealth struct {
	State      HealthState `json:"state"`
	ErrorRate  float64     `json:"error_rate"`
	InCooldown bool        `json:"in_cooldown"`
}
