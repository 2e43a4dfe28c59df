// Package boundary filters detected features to those that fall
// inside a property's legal parcel boundary.
//
// Parcel vertices arrive as (longitude, latitude); they are projected
// into image pixel space with the standard 256px-tile Web-Mercator
// math used by slippy-map static image providers, then every
// detection's normalized position is tested with ray casting.
package boundary

import (
	"math"
	"sync"

	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

const (
	tileSize = 256.0

	// estimatedPadding is the per-side margin of the fallback
	// rectangle used when no parcel polygon is available: the middle
	// 70% of the image.
	estimatedPadding = 0.15

	// DefaultOverlapThreshold is the fraction of a segmentation mask's
	// boundary-sample points that must fall inside the parcel for the
	// mask to be kept.
	DefaultOverlapThreshold = 0.5

	defaultZoom      = 19
	defaultDimension = 640
)

// Config parameterizes one enforcement run. Zero Zoom/ImageWidth/
// ImageHeight fall back to the static-map defaults.
type Config struct {
	CenterLat        float64
	CenterLng        float64
	Zoom             int
	ImageWidth       int
	ImageHeight      int
	Polygon          models.ParcelPolygon
	OverlapThreshold float64
}

type point struct {
	x, y float64
}

// Enforcer applies boundary filtering and keeps last-run statistics.
type Enforcer struct {
	mu    sync.Mutex
	stats models.BoundaryStats
}

// NewEnforcer creates an enforcer with empty stats.
func NewEnforcer() *Enforcer {
	return &Enforcer{stats: models.BoundaryStats{Source: models.BoundaryNone}}
}

// Stats returns the statistics of the most recent Enforce call.
func (e *Enforcer) Stats() models.BoundaryStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Enforce returns a copy of the result with out-of-parcel detections
// dropped. The input result is not modified.
func (e *Enforcer) Enforce(result *models.AnalysisResult, cfg Config) *models.AnalysisResult {
	filtered := *result

	if cfg.Zoom <= 0 {
		cfg.Zoom = defaultZoom
	}
	if cfg.ImageWidth <= 0 {
		cfg.ImageWidth = defaultDimension
	}
	if cfg.ImageHeight <= 0 {
		cfg.ImageHeight = defaultDimension
	}
	if cfg.OverlapThreshold <= 0 {
		cfg.OverlapThreshold = DefaultOverlapThreshold
	}

	stats := models.BoundaryStats{TotalFeatures: len(result.Detections)}
	if len(result.Detections) == 0 {
		stats.Source = models.BoundaryNone
		e.setStats(stats)
		return &filtered
	}

	var ring []point
	if len(cfg.Polygon) >= 3 {
		ring = e.projectParcel(cfg)
		stats.Source = models.BoundaryParcel
	} else {
		ring = estimatedRectangle(cfg)
		stats.Source = models.BoundaryEstimated
	}

	kept := make([]models.FeatureLocation, 0, len(result.Detections))
	for _, det := range result.Detections {
		if keepDetection(det, ring, cfg) {
			kept = append(kept, det)
		}
	}

	stats.Kept = len(kept)
	stats.Filtered = stats.TotalFeatures - stats.Kept
	filtered.Detections = kept
	e.setStats(stats)
	return &filtered
}

func (e *Enforcer) setStats(s models.BoundaryStats) {
	e.mu.Lock()
	e.stats = s
	e.mu.Unlock()
}

// keepDetection tests a point detection against the ring, or, for a
// segmentation mask, requires the configured fraction of its outline
// samples to fall inside so partially-clipped masks survive.
func keepDetection(det models.FeatureLocation, ring []point, cfg Config) bool {
	if len(det.Polygon) >= 3 {
		inside := 0
		for _, v := range det.Polygon {
			p := normalizedToPixel(v[0], v[1], cfg)
			if pointInPolygon(p, ring) {
				inside++
			}
		}
		return float64(inside)/float64(len(det.Polygon)) >= cfg.OverlapThreshold
	}

	return pointInPolygon(normalizedToPixel(det.X, det.Y, cfg), ring)
}

// projectParcel converts the geographic parcel ring into the pixel
// space of the image described by cfg.
func (e *Enforcer) projectParcel(cfg Config) []point {
	center := mercator(cfg.CenterLat, cfg.CenterLng, cfg.Zoom)
	ring := make([]point, len(cfg.Polygon))
	for i, v := range cfg.Polygon {
		w := mercator(v.Lat, v.Lng, cfg.Zoom)
		ring[i] = point{
			x: w.x - center.x + float64(cfg.ImageWidth)/2,
			y: w.y - center.y + float64(cfg.ImageHeight)/2,
		}
	}
	return ring
}

// estimatedRectangle is the centered fallback boundary covering the
// middle 70% of the image.
func estimatedRectangle(cfg Config) []point {
	w := float64(cfg.ImageWidth)
	h := float64(cfg.ImageHeight)
	left := w * estimatedPadding
	right := w * (1 - estimatedPadding)
	top := h * estimatedPadding
	bottom := h * (1 - estimatedPadding)
	return []point{
		{left, top},
		{right, top},
		{right, bottom},
		{left, bottom},
	}
}

// normalizedToPixel converts a 0-100% position to pixel coordinates.
func normalizedToPixel(xPct, yPct float64, cfg Config) point {
	return point{
		x: xPct / 100 * float64(cfg.ImageWidth),
		y: yPct / 100 * float64(cfg.ImageHeight),
	}
}

// mercator projects a geographic coordinate to global pixel space at
// the given zoom (256px tiles).
func mercator(lat, lng float64, zoom int) point {
	scale := tileSize * math.Exp2(float64(zoom))

	siny := math.Sin(lat * math.Pi / 180)
	// Clamp to keep the projection finite near the poles.
	siny = math.Min(math.Max(siny, -0.9999), 0.9999)

	return point{
		x: (lng + 180) / 360 * scale,
		y: (0.5 - math.Log((1+siny)/(1-siny))/(4*math.Pi)) * scale,
	}
}

// pointInPolygon is the standard ray-casting test.
func pointInPolygon(p point, ring []point) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := ring[i], ring[j]
		if (vi.y > p.y) != (vj.y > p.y) &&
			p.x < (vj.x-vi.x)*(p.y-vi.y)/(vj.y-vi.y)+vi.x {
			inside = !inside
		}
	}
	return inside
}
