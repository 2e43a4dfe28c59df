package boundary_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yardsight/yardsight/analysis-engine/internal/boundary"
	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

// worldPixel projects a geographic coordinate into global 256px-tile
// pixel space at the given zoom.
func worldPixel(lat, lng float64, zoom int) (x, y float64) {
	scale := 256.0 * math.Exp2(float64(zoom))
	siny := math.Sin(lat * math.Pi / 180)
	x = (lng + 180) / 360 * scale
	y = (0.5 - math.Log((1+siny)/(1-siny))/(4*math.Pi)) * scale
	return x, y
}

// inverseWorldPixel converts global pixel coordinates back into a
// geographic coordinate at the given zoom.
func inverseWorldPixel(x, y float64, zoom int) models.LngLat {
	scale := 256.0 * math.Exp2(float64(zoom))
	n := (0.5 - y/scale) * 4 * math.Pi
	return models.LngLat{
		Lng: x/scale*360 - 180,
		Lat: math.Asin(math.Tanh(n/2)) * 180 / math.Pi,
	}
}

// squareParcel returns a parcel ring of ±delta degrees around the
// given center.
func squareParcel(lat, lng, delta float64) models.ParcelPolygon {
	return models.ParcelPolygon{
		{Lng: lng - delta, Lat: lat - delta},
		{Lng: lng + delta, Lat: lat - delta},
		{Lng: lng + delta, Lat: lat + delta},
		{Lng: lng - delta, Lat: lat + delta},
	}
}

func resultWith(detections ...models.FeatureLocation) *models.AnalysisResult {
	return &models.AnalysisResult{JobID: "j", Detections: detections}
}

func TestEnforceParcelKeepsCenterDropsCorner(t *testing.T) {
	e := boundary.NewEnforcer()

	// At zoom 19 a ±0.0005 degree square spans roughly the middle
	// half of a 640px image centered on the parcel.
	cfg := boundary.Config{
		CenterLat:   37.0,
		CenterLng:   -122.0,
		Zoom:        19,
		ImageWidth:  640,
		ImageHeight: 640,
		Polygon:     squareParcel(37.0, -122.0, 0.0005),
	}

	center := models.FeatureLocation{Type: "tree", X: 50, Y: 50}
	corner := models.FeatureLocation{Type: "tree", X: 2, Y: 2}

	out := e.Enforce(resultWith(center, corner), cfg)
	require.Len(t, out.Detections, 1)
	assert.Equal(t, center, out.Detections[0])

	stats := e.Stats()
	assert.Equal(t, models.BoundaryParcel, stats.Source)
	assert.Equal(t, 2, stats.TotalFeatures)
	assert.Equal(t, 1, stats.Kept)
	assert.Equal(t, 1, stats.Filtered)
}

func TestEnforceFallsBackToEstimatedRectangle(t *testing.T) {
	e := boundary.NewEnforcer()
	cfg := boundary.Config{ImageWidth: 640, ImageHeight: 640}

	// The fallback keeps the middle 70% of the image: 15% padding puts
	// the left/top edge at pixel 96.
	inside := models.FeatureLocation{Type: "shrub", X: 50, Y: 50}
	edge := models.FeatureLocation{Type: "shrub", X: 10, Y: 10} // pixel 64, outside

	out := e.Enforce(resultWith(inside, edge), cfg)
	require.Len(t, out.Detections, 1)
	assert.Equal(t, inside, out.Detections[0])
	assert.Equal(t, models.BoundaryEstimated, e.Stats().Source)
}

func TestEnforceDegenerateParcelUsesFallback(t *testing.T) {
	e := boundary.NewEnforcer()
	cfg := boundary.Config{
		ImageWidth:  640,
		ImageHeight: 640,
		Polygon:     models.ParcelPolygon{{Lng: -122, Lat: 37}, {Lng: -121.999, Lat: 37}},
	}

	e.Enforce(resultWith(models.FeatureLocation{X: 50, Y: 50}), cfg)
	assert.Equal(t, models.BoundaryEstimated, e.Stats().Source)
}

func TestEnforceMaskOverlapThreshold(t *testing.T) {
	e := boundary.NewEnforcer()

	// Half the mask outline sits inside the estimated rectangle.
	mask := models.FeatureLocation{
		Type: "lawn",
		Polygon: [][2]float64{
			{50, 40}, {50, 60}, // inside
			{99, 40}, {99, 60}, // outside the right edge
		},
	}

	cfg := boundary.Config{ImageWidth: 640, ImageHeight: 640, OverlapThreshold: 0.5}
	out := e.Enforce(resultWith(mask), cfg)
	assert.Len(t, out.Detections, 1, "half overlap meets the default threshold")

	cfg.OverlapThreshold = 0.6
	out = e.Enforce(resultWith(mask), cfg)
	assert.Empty(t, out.Detections, "half overlap fails a stricter threshold")
}

func TestEnforceNoDetections(t *testing.T) {
	e := boundary.NewEnforcer()

	out := e.Enforce(resultWith(), boundary.Config{})
	assert.Empty(t, out.Detections)

	stats := e.Stats()
	assert.Equal(t, models.BoundaryNone, stats.Source)
	assert.Zero(t, stats.TotalFeatures)
}

func TestEnforceDoesNotMutateInput(t *testing.T) {
	e := boundary.NewEnforcer()
	in := resultWith(
		models.FeatureLocation{Type: "tree", X: 50, Y: 50},
		models.FeatureLocation{Type: "tree", X: 1, Y: 1},
	)

	out := e.Enforce(in, boundary.Config{ImageWidth: 640, ImageHeight: 640})
	assert.Len(t, in.Detections, 2)
	assert.Len(t, out.Detections, 1)
}

func TestEstimatedRectangleEdges(t *testing.T) {
	e := boundary.NewEnforcer()

	detections := []models.FeatureLocation{
		{Type: "a", X: 50, Y: 50},
		{Type: "b", X: 16, Y: 16}, // just inside the 15% padding
		{Type: "c", X: 14, Y: 14}, // just outside
		{Type: "d", X: 84, Y: 84},
		{Type: "e", X: 95, Y: 5},
	}

	fallback := e.Enforce(resultWith(detections...), boundary.Config{ImageWidth: 640, ImageHeight: 640})

	kept := make([]string, 0, len(fallback.Detections))
	for _, d := range fallback.Detections {
		kept = append(kept, d.Type)
	}
	assert.ElementsMatch(t, []string{"a", "b", "d"}, kept)
}

func TestParcelMatchingFallbackRectangleFiltersIdentically(t *testing.T) {
	const (
		lat  = 37.0
		lng  = -122.0
		zoom = 19
		dim  = 640.0
	)

	// Build a geographic ring whose projection lands exactly on the
	// fallback rectangle: take the rectangle's pixel corners (15%
	// padding of a 640px image), shift them into world pixel space
	// around the image center, and invert the projection.
	cx, cy := worldPixel(lat, lng, zoom)
	corner := func(px, py float64) models.LngLat {
		return inverseWorldPixel(px+cx-dim/2, py+cy-dim/2, zoom)
	}
	ring := models.ParcelPolygon{
		corner(96, 96),
		corner(544, 96),
		corner(544, 544),
		corner(96, 544),
	}

	detections := []models.FeatureLocation{
		{Type: "a", X: 50, Y: 50},
		{Type: "b", X: 16, Y: 16},
		{Type: "c", X: 14, Y: 14},
		{Type: "d", X: 84, Y: 84},
		{Type: "e", X: 95, Y: 5},
	}

	e := boundary.NewEnforcer()

	viaParcel := e.Enforce(resultWith(detections...), boundary.Config{
		CenterLat:   lat,
		CenterLng:   lng,
		Zoom:        zoom,
		ImageWidth:  dim,
		ImageHeight: dim,
		Polygon:     ring,
	})
	require.Equal(t, models.BoundaryParcel, e.Stats().Source)

	viaFallback := e.Enforce(resultWith(detections...), boundary.Config{
		ImageWidth:  dim,
		ImageHeight: dim,
	})
	require.Equal(t, models.BoundaryEstimated, e.Stats().Source)

	assert.Equal(t, viaFallback.Detections, viaParcel.Detections)

	kept := make([]string, 0, len(viaParcel.Detections))
	for _, d := range viaParcel.Detections {
		kept = append(kept, d.Type)
	}
	assert.ElementsMatch(t, []string{"a", "b", "d"}, kept)
}
