// Package health tracks per-provider request outcomes and derives the
// three-state health classification the orchestrator selects against.
//
// All counters are updated through the single RecordAttempt entry
// point, so concurrent callers can never interleave a partial update.
package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

const (
	windowMinutes = 60
	// minAlertSamples is the floor below which error-rate alerts are
	// suppressed; a single early failure should not page anyone.
	minAlertSamples = 10

	downErrorRate     = 0.50
	degradedErrorRate = 0.10
)

// Alert is raised to listeners when a provider degrades or reports a
// rate-limit condition.
type Alert struct {
	Provider  string    `json:"provider"`
	Message   string    `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier forwards alerts to an external collaborator (webhook).
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// minuteBucket aggregates outcomes for one wall-clock minute.
type minuteBucket struct {
	minute   time.Time
	requests int64
	errors   int64
}

// Monitor maintains rolling provider metrics and health state.
type Monitor struct {
	mu        sync.Mutex
	metrics   map[string]*models.ProviderMetrics
	buckets   map[string][]minuteBucket
	listeners []func(Alert)
	notifier  Notifier

	now func() time.Time
}

// NewMonitor creates an empty monitor. notifier may be nil.
func NewMonitor(notifier Notifier) *Monitor {
	return &Monitor{
		metrics:  make(map[string]*models.ProviderMetrics),
		buckets:  make(map[string][]minuteBucket),
		notifier: notifier,
		now:      time.Now,
	}
}

// OnAlert registers a listener invoked synchronously for every alert.
func (m *Monitor) OnAlert(fn func(Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// RecordAttempt records the outcome of one provider invocation. It is
// the only mutation path for provider metrics.
func (m *Monitor) RecordAttempt(provider string, latency time.Duration, success bool, usage models.TokenUsage, attemptErr error) {
	now := m.now().UTC()

	m.mu.Lock()

	pm, ok := m.metrics[provider]
	if !ok {
		pm = &models.ProviderMetrics{Provider: provider}
		m.metrics[provider] = pm
	}

	pm.Requests++
	latencyMs := float64(latency.Milliseconds())
	// Running average recomputed per sample; everything else is
	// monotonic.
	pm.AvgLatency += (latencyMs - pm.AvgLatency) / float64(pm.Requests)
	pm.TotalTokens += usage.TotalTokens
	pm.TotalCost += usage.Cost
	if !success {
		pm.Errors++
		if attemptErr != nil {
			pm.LastError = attemptErr.Error()
		} else {
			pm.LastError = "unknown error"
		}
		pm.LastErrorAt = now
	}

	m.record(provider, now, success)

	var alerts []Alert
	rateLimited := errors.Is(attemptErr, models.ErrRateLimited)
	if rateLimited {
		alerts = append(alerts, Alert{
			Provider:  provider,
			Message:   "provider reported rate limit",
			Timestamp: now,
		})
	}
	if req, errs := m.windowCounts(provider, now); req >= minAlertSamples {
		if rate := float64(errs) / float64(req); rate > degradedErrorRate {
			alerts = append(alerts, Alert{
				Provider:  provider,
				Message:   "provider error rate above 10% over the last hour",
				Timestamp: now,
			})
		}
	}
	listeners := make([]func(Alert), len(m.listeners))
	copy(listeners, m.listeners)

	m.mu.Unlock()

	for _, alert := range alerts {
		log.Warn().
			Str("provider", alert.Provider).
			Str("alert", alert.Message).
			Msg("provider alert")
		for _, fn := range listeners {
			fn(alert)
		}
		if m.notifier != nil {
			if err := m.notifier.Notify(context.Background(), alert); err != nil {
				log.Warn().Err(err).Str("provider", alert.Provider).Msg("alert webhook delivery failed")
			}
		}
	}
}

// record updates the per-minute rolling window. Caller holds mu.
func (m *Monitor) record(provider string, now time.Time, success bool) {
	minute := now.Truncate(time.Minute)
	buckets := m.buckets[provider]

	if n := len(buckets); n > 0 && buckets[n-1].minute.Equal(minute) {
		buckets[n-1].requests++
		if !success {
			buckets[n-1].errors++
		}
	} else {
		b := minuteBucket{minute: minute, requests: 1}
		if !success {
			b.errors = 1
		}
		buckets = append(buckets, b)
	}

	// Prune buckets older than the window.
	cutoff := minute.Add(-windowMinutes * time.Minute)
	i := 0
	for i < len(buckets) && buckets[i].minute.Before(cutoff) {
		i++
	}
	m.buckets[provider] = buckets[i:]
}

// windowCounts sums the rolling window. Caller holds mu.
func (m *Monitor) windowCounts(provider string, now time.Time) (requests, errs int64) {
	cutoff := now.Truncate(time.Minute).Add(-windowMinutes * time.Minute)
	for _, b := range m.buckets[provider] {
		if b.minute.Before(cutoff) {
			continue
		}
		requests += b.requests
		errs += b.errors
	}
	return requests, errs
}

// Health classifies a provider from its rolling-window error rate.
// A provider with no samples is healthy by default.
func (m *Monitor) Health(provider string) models.HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()

	requests, errs := m.windowCounts(provider, m.now().UTC())
	if requests < 1 {
		return models.HealthHealthy
	}
	rate := float64(errs) / float64(requests)
	switch {
	case rate > downErrorRate:
		return models.HealthDown
	case rate > degradedErrorRate:
		return models.HealthDegraded
	default:
		return models.HealthHealthy
	}
}

// ErrorRate returns the rolling-window error rate for a provider.
func (m *Monitor) ErrorRate(provider string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	requests, errs := m.windowCounts(provider, m.now().UTC())
	if requests == 0 {
		return 0
	}
	return float64(errs) / float64(requests)
}

// AvgLatency returns the running-average latency in milliseconds, or 0
// when the provider has no samples.
func (m *Monitor) AvgLatency(provider string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pm, ok := m.metrics[provider]; ok {
		return pm.AvgLatency
	}
	return 0
}

// Snapshot copies all provider metrics for the status surface.
func (m *Monitor) Snapshot() map[string]models.ProviderMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.ProviderMetrics, len(m.metrics))
	for name, pm := range m.metrics {
		out[name] = *pm
	}
	return out
}
