// Package handlers implements the HTTP handlers for the analysis
// engine: job submission (blocking until a result is produced) and the
// operator status surface.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yardsight/yardsight/analysis-engine/internal/boundary"
	"github.com/yardsight/yardsight/analysis-engine/internal/cache"
	"github.com/yardsight/yardsight/analysis-engine/internal/dispatch"
	"github.com/yardsight/yardsight/analysis-engine/internal/health"
	"github.com/yardsight/yardsight/analysis-engine/internal/router"
	"github.com/yardsight/yardsight/analysis-engine/internal/store"
	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

// statusTTL bounds how long job state stays in the cache for polling.
const statusTTL = 30 * time.Minute

// Handlers holds all handler dependencies.
type Handlers struct {
	Store      store.Store
	Cache      cache.Cache
	Dispatcher *dispatch.Dispatcher
	Router     *router.Router
	Monitor    *health.Monitor
	Enforcer   *boundary.Enforcer
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, ca cache.Cache, d *dispatch.Dispatcher, r *router.Router, m *health.Monitor, e *boundary.Enforcer) *Handlers {
	return &Handlers{
		Store:      s,
		Cache:      ca,
		Dispatcher: d,
		Router:     r,
		Monitor:    m,
		Enforcer:   e,
	}
}

// ── Analysis handlers ───────────────────────────────────────

type submitRequest struct {
	Address            string                 `json:"address"`
	Latitude           float64                `json:"latitude"`
	Longitude          float64                `json:"longitude"`
	Priority           models.Priority        `json:"priority"`
	RetryLowConfidence bool                   `json:"retry_low_confidence"`
	Images             []models.ImagePayload  `json:"images"`
	Parcel             *models.ParcelMetadata `json:"parcel,omitempty"`
}

// SubmitAnalysis accepts a job and blocks until its result or terminal
// failure.
func (h *Handlers) SubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Images) == 0 {
		respondError(w, http.StatusBadRequest, "At least one image is required")
		return
	}
	if req.Address == "" {
		respondError(w, http.StatusBadRequest, "Address is required")
		return
	}
	if req.Priority == "" {
		req.Priority = models.PriorityStandard
	}
	if !req.Priority.Valid() {
		respondError(w, http.StatusBadRequest, "Priority must be one of urgent, high, standard, low")
		return
	}

	job := &models.Job{
		ID:                 uuid.New().String(),
		Images:             req.Images,
		Address:            req.Address,
		Latitude:           req.Latitude,
		Longitude:          req.Longitude,
		Parcel:             req.Parcel,
		Priority:           req.Priority,
		RetryLowConfidence: req.RetryLowConfidence,
		CreatedAt:          time.Now().UTC(),
	}

	ctx := r.Context()
	if err := h.Store.SaveJob(ctx, job); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = h.Cache.SetJobStatus(ctx, job.ID, cache.StatusQueued, statusTTL)

	log.Info().
		Str("job", job.ID).
		Str("priority", string(job.Priority)).
		Int("images", len(job.Images)).
		Msg("analysis job submitted")

	_ = h.Cache.SetJobStatus(ctx, job.ID, cache.StatusRunning, statusTTL)
	result, err := h.Dispatcher.Submit(ctx, job)
	if err != nil {
		_ = h.Cache.SetJobStatus(ctx, job.ID, cache.StatusFailed, statusTTL)
		switch {
		case errors.Is(err, models.ErrDispatcherStopped):
			respondError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, models.ErrAllProvidersFailed), errors.Is(err, models.ErrNoProviderAvailable):
			respondError(w, http.StatusBadGateway, err.Error())
		case errors.Is(err, ctx.Err()):
			respondError(w, http.StatusRequestTimeout, "request cancelled")
		default:
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}

	if err := h.Store.SaveResult(ctx, result); err != nil {
		log.Warn().Err(err).Str("job", job.ID).Msg("failed to record result")
	}
	_ = h.Cache.SetJobStatus(ctx, job.ID, cache.StatusCompleted, statusTTL)
	_ = h.Cache.SetResult(ctx, result, statusTTL)

	respondJSON(w, http.StatusOK, result)
}

type analysisStatus struct {
	JobID  string                 `json:"job_id"`
	Status string                 `json:"status"`
	Result *models.AnalysisResult `json:"result,omitempty"`
}

// GetAnalysis returns cached job state, falling back to the store.
func (h *Handlers) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	ctx := r.Context()

	status, ok, err := h.Cache.GetJobStatus(ctx, jobID)
	if err != nil {
		log.Warn().Err(err).Str("job", jobID).Msg("status cache read failed")
	}
	if ok {
		out := analysisStatus{JobID: jobID, Status: status}
		if status == cache.StatusCompleted {
			if result, found, _ := h.Cache.GetResult(ctx, jobID); found {
				out.Result = result
			}
		}
		respondJSON(w, http.StatusOK, out)
		return
	}

	result, err := h.Store.GetResult(ctx, jobID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	respondJSON(w, http.StatusOK, analysisStatus{JobID: jobID, Status: cache.StatusCompleted, Result: result})
}

// ListAnalyses returns recent results, newest first.
func (h *Handlers) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	results, err := h.Store.ListResults(r.Context(), 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []models.AnalysisResult{}
	}
	respondJSON(w, http.StatusOK, results)
}

// ── Provider handlers ───────────────────────────────────────

func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Router.Providers())
}

func (h *Handlers) EnableProvider(w http.ResponseWriter, r *http.Request) {
	h.setProviderEnabled(w, r, true)
}

func (h *Handlers) DisableProvider(w http.ResponseWriter, r *http.Request) {
	h.setProviderEnabled(w, r, false)
}

func (h *Handlers) setProviderEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "providerID")
	if err := h.Router.SetEnabled(id, enabled); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	log.Info().Str("provider", id).Bool("enabled", enabled).Msg("provider toggled")
	respondJSON(w, http.StatusOK, map[string]any{"provider": id, "enabled": enabled})
}

// ProviderHealth returns health classification and rolling metrics for
// every configured provider.
func (h *Handlers) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]models.ProviderHealth)
	for _, p := range h.Router.Providers() {
		states[p.ID] = models.ProviderHealth{
			State:      h.Monitor.Health(p.ID),
			ErrorRate:  h.Monitor.ErrorRate(p.ID),
			InCooldown: h.Router.InCooldown(p.ID),
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"providers": states,
		"metrics":   h.Monitor.Snapshot(),
	})
}

// ── Status surface ──────────────────────────────────────────

// EngineStatus reports queue depth, worker utilization, provider
// health, and the last boundary-enforcement statistics.
func (h *Handlers) EngineStatus(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]models.ProviderHealth)
	for _, p := range h.Router.Providers() {
		providers[p.ID] = models.ProviderHealth{
			State:      h.Monitor.Health(p.ID),
			ErrorRate:  h.Monitor.ErrorRate(p.ID),
			InCooldown: h.Router.InCooldown(p.ID),
		}
	}
	respondJSON(w, http.StatusOK, models.EngineStatus{
		QueueDepth:    h.Dispatcher.QueueDepth(),
		ActiveWorkers: h.Dispatcher.ActiveWorkers(),
		Providers:     providers,
		Boundary:      h.Enforcer.Stats(),
	})
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
