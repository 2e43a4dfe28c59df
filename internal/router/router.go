// Package router implements the provider orchestrator.
//
// The router holds the configured vision-inference providers, selects
// one per job based on priority and live health/cooldown state, and
// executes jobs with automatic fallback across the remaining providers
// until one answers or every enabled provider has been tried.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yardsight/yardsight/analysis-engine/internal/health"
	"github.com/yardsight/yardsight/analysis-engine/internal/metrics"
	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

// DefaultCooldown is how long a provider is excluded from selection
// after it signals a rate-limit condition.
const DefaultCooldown = 60 * time.Second

// Driver executes one analysis call against a provider kind.
type Driver interface {
	Kind() string
	Analyze(ctx context.Context, provider *models.ProviderDescriptor, job *models.Job) (*models.AnalysisResult, error)
}

// Router selects and invokes providers, reporting every outcome to the
// health monitor.
type Router struct {
	monitor  *health.Monitor
	cooldown time.Duration

	mu        sync.Mutex
	providers map[string]*models.ProviderDescriptor
	cooldowns map[string]time.Time
	drivers   map[string]Driver

	now func() time.Time
}

// New creates a router with the built-in vision drivers registered.
// cooldown <= 0 falls back to DefaultCooldown.
func New(monitor *health.Monitor, cooldown time.Duration) *Router {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	r := &Router{
		monitor:   monitor,
		cooldown:  cooldown,
		providers: make(map[string]*models.ProviderDescriptor),
		cooldowns: make(map[string]time.Time),
		drivers:   make(map[string]Driver),
		now:       time.Now,
	}
	r.RegisterDriver(&openAIDriver{client: newHTTPClient()})
	r.RegisterDriver(&anthropicDriver{client: newHTTPClient()})
	r.RegisterDriver(&ollamaDriver{client: newHTTPClient()})
	return r
}

// RegisterDriver adds or replaces the driver for a provider kind.
func (r *Router) RegisterDriver(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Kind()] = d
}

// AddProvider registers a provider descriptor. Identifiers are unique;
// re-adding an id replaces the previous descriptor.
func (r *Router) AddProvider(p models.ProviderDescriptor) error {
	if p.ID == "" {
		return fmt.Errorf("provider id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[p.Kind]; !ok {
		return fmt.Errorf("no driver registered for provider kind %q", p.Kind)
	}
	cp := p
	r.providers[p.ID] = &cp
	return nil
}

// SetEnabled flips a provider's enabled flag.
func (r *Router) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[id]
	if !ok {
		return fmt.Errorf("unknown provider %q", id)
	}
	p.Enabled = enabled
	return nil
}

// Providers lists descriptors sorted by id.
func (r *Router) Providers() []models.ProviderDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ProviderDescriptor, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetCooldown is the single mutation path for the cooldown map.
func (r *Router) SetCooldown(id string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldowns[id] = r.now().Add(d)
}

// InCooldown reports whether a provider is currently excluded.
func (r *Router) InCooldown(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.cooldowns[id]
	return ok && r.now().Before(until)
}

// available reports whether a provider may be selected right now.
// Caller holds mu.
func (r *Router) available(p *models.ProviderDescriptor) bool {
	if !p.Enabled {
		return false
	}
	if until, ok := r.cooldowns[p.ID]; ok && r.now().Before(until) {
		return false
	}
	return r.monitor.Health(p.ID) != models.HealthDown
}

// SelectProvider picks the best available provider for a job.
// Urgent/high jobs go to the lowest recorded average latency;
// standard/low go to the lowest configured per-token cost.
func (r *Router) SelectProvider(job *models.Job) (*models.ProviderDescriptor, error) {
	return r.selectExcluding(job, nil)
}

func (r *Router) selectExcluding(job *models.Job, tried map[string]bool) (*models.ProviderDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*models.ProviderDescriptor
	for _, p := range r.providers {
		if tried[p.ID] || !r.available(p) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, models.ErrNoProviderAvailable
	}

	latencySensitive := job.Priority == models.PriorityUrgent || job.Priority == models.PriorityHigh
	sort.Slice(candidates, func(i, j int) bool {
		if latencySensitive {
			li := r.monitor.AvgLatency(candidates[i].ID)
			lj := r.monitor.AvgLatency(candidates[j].ID)
			if li != lj {
				return li < lj
			}
		} else if candidates[i].CostPer1K != candidates[j].CostPer1K {
			return candidates[i].CostPer1K < candidates[j].CostPer1K
		}
		return candidates[i].ID < candidates[j].ID
	})

	cp := *candidates[0]
	return &cp, nil
}

// ExecuteWithFallback runs the job against providers in selection
// order until one succeeds. Failed providers are marked tried and the
// next candidate is selected fresh, so health and cooldown changes
// made mid-job are honored. When every enabled provider has been
// tried, the returned error wraps ErrRateLimited if any attempt was
// rate limited (the dispatcher re-queues those instead of failing),
// otherwise ErrAllProvidersFailed.
func (r *Router) ExecuteWithFallback(ctx context.Context, job *models.Job) (*models.AnalysisResult, error) {
	tried := make(map[string]bool)
	var triedOrder []string
	var lastErr error
	rateLimited := false

	for {
		provider, err := r.selectExcluding(job, tried)
		if err != nil {
			break
		}
		tried[provider.ID] = true
		triedOrder = append(triedOrder, provider.ID)

		result, err := r.invoke(ctx, provider, job)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, models.ErrRateLimited) {
			rateLimited = true
			r.SetCooldown(provider.ID, r.cooldown)
		}
		log.Warn().
			Str("job", job.ID).
			Str("provider", provider.ID).
			Err(err).
			Msg("provider attempt failed, falling back")
	}

	if len(triedOrder) == 0 {
		return nil, fmt.Errorf("job %s: %w", job.ID, models.ErrNoProviderAvailable)
	}
	if rateLimited {
		return nil, fmt.Errorf("job %s: providers tried [%s]: %w", job.ID, strings.Join(triedOrder, ", "), models.ErrRateLimited)
	}
	return nil, fmt.Errorf("job %s: providers tried [%s]: %v: %w", job.ID, strings.Join(triedOrder, ", "), lastErr, models.ErrAllProvidersFailed)
}

// invoke runs one provider attempt, fills in latency and cost, and
// records the outcome to the health monitor.
func (r *Router) invoke(ctx context.Context, provider *models.ProviderDescriptor, job *models.Job) (*models.AnalysisResult, error) {
	r.mu.Lock()
	driver := r.drivers[provider.Kind]
	r.mu.Unlock()
	if driver == nil {
		return nil, fmt.Errorf("no driver for provider kind %q", provider.Kind)
	}

	timeout := provider.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	result, err := driver.Analyze(callCtx, provider, job)
	elapsed := r.now().Sub(start)

	if err != nil {
		outcome := "error"
		if errors.Is(err, models.ErrRateLimited) {
			outcome = "rate_limited"
		}
		metrics.ProviderRequests.WithLabelValues(provider.ID, outcome).Inc()
		r.monitor.RecordAttempt(provider.ID, elapsed, false, models.TokenUsage{}, err)
		return nil, err
	}
	metrics.ProviderRequests.WithLabelValues(provider.ID, "success").Inc()

	result.JobID = job.ID
	result.Provider = provider.ID
	if result.Model == "" {
		result.Model = provider.Model
	}
	result.Latency = elapsed
	if result.Usage.TotalTokens == 0 {
		result.Usage.TotalTokens = result.Usage.InputTokens + result.Usage.OutputTokens
	}
	// Cost is derived from configured per-1k pricing unless the driver
	// already filled it in.
	if result.Usage.Cost == 0 {
		result.Usage.Cost = float64(result.Usage.InputTokens+result.Usage.OutputTokens) / 1000 * provider.CostPer1K
	}
	result.CreatedAt = r.now().UTC()

	r.monitor.RecordAttempt(provider.ID, elapsed, true, result.Usage, nil)
	return result, nil
}
