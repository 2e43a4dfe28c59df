package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yardsight/yardsight/analysis-engine/internal/api"
	"github.com/yardsight/yardsight/analysis-engine/internal/api/handlers"
	"github.com/yardsight/yardsight/analysis-engine/internal/boundary"
	"github.com/yardsight/yardsight/analysis-engine/internal/cache"
	"github.com/yardsight/yardsight/analysis-engine/internal/config"
	"github.com/yardsight/yardsight/analysis-engine/internal/dispatch"
	"github.com/yardsight/yardsight/analysis-engine/internal/health"
	"github.com/yardsight/yardsight/analysis-engine/internal/router"
	"github.com/yardsight/yardsight/analysis-engine/internal/store"
	"github.com/yardsight/yardsight/analysis-engine/internal/validate"
	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

// mockDriver answers every provider call with a fixed result or error.
type mockDriver struct {
	err error
}

func (d *mockDriver) Kind() string { return "mock" }
func (d *mockDriver) Analyze(_ context.Context, _ *models.ProviderDescriptor, _ *models.Job) (*models.AnalysisResult, error) {
	if d.err != nil {
		return nil, d.err
	}
	lawn := 4_800.0
	trees := 5
	return &models.AnalysisResult{
		Features:   models.PropertyFeatures{LawnSqft: &lawn, TreeCount: &trees},
		Confidence: 0.9,
	}, nil
}

func newTestAPI(t *testing.T, driverErr error) http.Handler {
	t.Helper()

	monitor := health.NewMonitor(nil)
	pr := router.New(monitor, time.Minute)
	pr.RegisterDriver(&mockDriver{err: driverErr})
	require.NoError(t, pr.AddProvider(models.ProviderDescriptor{
		ID: "mock", Kind: "mock", Model: "mock-vision", CostPer1K: 0.001, Enabled: true,
	}))

	d := dispatch.New(dispatch.Config{}, pr, validate.New(validate.Config{}), boundary.NewEnforcer())
	t.Cleanup(d.Stop)

	h := handlers.New(store.NewMemoryStore(), cache.Noop{}, d, pr, monitor, boundary.NewEnforcer())
	return api.NewRouter(config.Load(), h)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func submitBody() map[string]any {
	return map[string]any{
		"address":  "41 Maple St",
		"priority": "standard",
		"images": []map[string]any{
			{"mime_type": "image/jpeg", "data": []byte("fake")},
		},
	}
}

func TestSubmitAnalysisValidation(t *testing.T) {
	h := newTestAPI(t, nil)

	body := submitBody()
	delete(body, "images")
	rec := doJSON(t, h, http.MethodPost, "/api/v1/analyses", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "image")

	body = submitBody()
	body["address"] = ""
	rec = doJSON(t, h, http.MethodPost, "/api/v1/analyses", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = submitBody()
	body["priority"] = "asap"
	rec = doJSON(t, h, http.MethodPost, "/api/v1/analyses", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Priority")
}

func TestSubmitAnalysisReturnsResult(t *testing.T) {
	h := newTestAPI(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/analyses", submitBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.JobID)
	assert.Equal(t, "mock", result.Provider)
	require.NotNil(t, result.Features.LawnSqft)
	assert.Equal(t, 4_800.0, *result.Features.LawnSqft)

	// The finished analysis is retrievable by job id.
	rec = doJSON(t, h, http.MethodGet, "/api/v1/analyses/"+result.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)

	// And listed.
	rec = doJSON(t, h, http.MethodGet, "/api/v1/analyses", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestSubmitAnalysisProviderFailure(t *testing.T) {
	h := newTestAPI(t, errors.New("model exploded"))

	rec := doJSON(t, h, http.MethodPost, "/api/v1/analyses", submitBody())
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetAnalysisNotFound(t *testing.T) {
	h := newTestAPI(t, nil)
	rec := doJSON(t, h, http.MethodGet, "/api/v1/analyses/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProviderToggle(t *testing.T) {
	h := newTestAPI(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/providers/mock/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var providers []models.ProviderDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &providers))
	require.Len(t, providers, 1)
	assert.False(t, providers[0].Enabled)

	// With its only provider disabled, submission fails upstream.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/analyses", submitBody())
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/providers/mock/enable", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/providers/nope/enable", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEngineStatus(t *testing.T) {
	h := newTestAPI(t, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.EngineStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Zero(t, status.QueueDepth)
	assert.Zero(t, status.ActiveWorkers)
	assert.Contains(t, status.Providers, "mock")
	assert.Equal(t, models.HealthHealthy, status.Providers["mock"].State)
}

func TestProviderHealthEndpoint(t *testing.T) {
	h := newTestAPI(t, nil)

	// One successful analysis seeds the rolling metrics.
	rec := doJSON(t, h, http.MethodPost, "/api/v1/analyses", submitBody())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/health/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
	assert.Contains(t, rec.Body.String(), `"requests":1`)
}

func TestHealthAndVersion(t *testing.T) {
	h := newTestAPI(t, nil)

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = doJSON(t, h, http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "yardsight-analysis-engine")
}
