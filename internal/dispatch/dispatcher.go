// Package dispatch admits analysis jobs into the engine: a four-bucket
// priority queue feeding a bounded worker pool.
//
// Submit is the only blocking point callers see; everything past
// admission (provider fallback, validation, consensus, boundary
// enforcement) happens on a worker slot. Rate-limited jobs are
// re-queued after a delay instead of failing their callers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yardsight/yardsight/analysis-engine/internal/boundary"
	"github.com/yardsight/yardsight/analysis-engine/internal/metrics"
	"github.com/yardsight/yardsight/analysis-engine/internal/validate"
	"github.com/yardsight/yardsight/analysis-engine/pkg/models"
)

var tracer = otel.Tracer("yardsight-analysis-engine")

// Defaults applied when a Config field is zero.
const (
	DefaultMaxConcurrent = 3
	DefaultRequeueDelay  = 30 * time.Second
)

// Executor runs one job against the provider fleet. Implemented by
// router.Router.
type Executor interface {
	ExecuteWithFallback(ctx context.Context, job *models.Job) (*models.AnalysisResult, error)
}

// Config tunes the dispatcher.
type Config struct {
	MaxConcurrent int
	RequeueDelay  time.Duration
	Clock         Clock
}

type outcome struct {
	result *models.AnalysisResult
	err    error
}

type pending struct {
	job  *models.Job
	done chan outcome
}

// priority buckets in service order.
var bucketOrder = []models.Priority{
	models.PriorityUrgent,
	models.PriorityHigh,
	models.PriorityStandard,
	models.PriorityLow,
}

// Dispatcher owns the queue and the worker pool.
type Dispatcher struct {
	cfg       Config
	exec      Executor
	validator *validate.Validator
	enforcer  *boundary.Enforcer

	mu      sync.Mutex
	queue   map[models.Priority][]*pending
	active  int
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a dispatcher. Zero config fields take the defaults; a
// nil Clock uses the wall clock.
func New(cfg Config, exec Executor, validator *validate.Validator, enforcer *boundary.Enforcer) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = DefaultRequeueDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	return &Dispatcher{
		cfg:       cfg,
		exec:      exec,
		validator: validator,
		enforcer:  enforcer,
		queue:     make(map[models.Priority][]*pending),
		stopCh:    make(chan struct{}),
	}
}

// Submit enqueues the job and blocks until its result, a terminal
// failure, or ctx cancellation. The job itself is never mutated.
func (d *Dispatcher) Submit(ctx context.Context, job *models.Job) (*models.AnalysisResult, error) {
	if !job.Priority.Valid() {
		return nil, fmt.Errorf("job %s: invalid priority %q", job.ID, job.Priority)
	}

	p := &pending{job: job, done: make(chan outcome, 1)}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, models.ErrDispatcherStopped
	}
	d.queue[job.Priority] = append(d.queue[job.Priority], p)
	d.mu.Unlock()

	metrics.JobsSubmitted.Inc()
	d.updateGauges()
	d.pump()

	select {
	case out := <-p.done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pump moves queued jobs onto free worker slots until the queue is
// empty or the pool is saturated.
func (d *Dispatcher) pump() {
	for {
		d.mu.Lock()
		if d.stopped || d.active >= d.cfg.MaxConcurrent {
			d.mu.Unlock()
			return
		}
		p := d.pop()
		if p == nil {
			d.mu.Unlock()
			return
		}
		d.active++
		d.wg.Add(1)
		d.mu.Unlock()

		d.updateGauges()
		go d.run(p)
	}
}

// pop removes the next eligible job. Caller holds mu.
func (d *Dispatcher) pop() *pending {
	for _, pr := range bucketOrder {
		if bucket := d.queue[pr]; len(bucket) > 0 {
			p := bucket[0]
			d.queue[pr] = bucket[1:]
			return p
		}
	}
	return nil
}

// run executes one admitted job to completion, re-queueing it on a
// rate-limit signal, then immediately pulls the next queued job.
func (d *Dispatcher) run(p *pending) {
	defer d.wg.Done()

	result, err := d.process(p.job)

	d.mu.Lock()
	d.active--
	d.mu.Unlock()
	d.updateGauges()

	switch {
	case errors.Is(err, models.ErrRateLimited):
		metrics.JobsRequeued.Inc()
		log.Info().
			Str("job", p.job.ID).
			Dur("delay", d.cfg.RequeueDelay).
			Msg("rate limited, re-queueing job")
		d.wg.Add(1)
		go d.requeueLater(p)
	case err != nil:
		metrics.JobsFailed.Inc()
		d.validator.Forget(p.job.ID)
		p.done <- outcome{err: err}
	default:
		metrics.JobsCompleted.Inc()
		d.validator.Forget(p.job.ID)
		p.done <- outcome{result: result}
	}

	d.pump()
}

// requeueLater re-inserts a rate-limited job at the back of its
// priority bucket after the configured delay.
func (d *Dispatcher) requeueLater(p *pending) {
	defer d.wg.Done()

	select {
	case <-d.cfg.Clock.After(d.cfg.RequeueDelay):
	case <-d.stopCh:
		p.done <- outcome{err: models.ErrDispatcherStopped}
		return
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		p.done <- outcome{err: models.ErrDispatcherStopped}
		return
	}
	d.queue[p.job.Priority] = append(d.queue[p.job.Priority], p)
	d.mu.Unlock()

	d.updateGauges()
	d.pump()
}

// process runs the full pipeline for one job: provider fallback,
// validation with bounded retry, consensus merging, and boundary
// enforcement.
func (d *Dispatcher) process(job *models.Job) (*models.AnalysisResult, error) {
	ctx, span := tracer.Start(context.Background(), "analysis.job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.priority", string(job.Priority)),
		))
	defer span.End()

	var accepted []models.AnalysisResult
	for {
		result, err := d.exec.ExecuteWithFallback(ctx, job)
		if err != nil {
			if errors.Is(err, models.ErrRateLimited) {
				return nil, err
			}
			if len(accepted) > 0 {
				// A retry attempt failed outright; fall back to what
				// the earlier providers already answered.
				break
			}
			return nil, err
		}

		report := d.validator.Check(result, job.RetryLowConfidence)
		if !report.Passed {
			if report.Recommendation == models.RecommendRetry {
				log.Warn().
					Str("job", job.ID).
					Strs("issues", report.Issues).
					Msg("result failed validation, retrying")
				continue
			}
			if len(accepted) > 0 {
				// A second opinion failed terminally; keep the answer
				// that already passed rather than failing the job.
				log.Warn().
					Str("job", job.ID).
					Strs("issues", report.Issues).
					Msg("follow-up result failed validation, keeping accepted answer")
				break
			}
			return nil, fmt.Errorf("job %s: result failed validation (%s): %s",
				job.ID, report.Severity, strings.Join(report.Issues, "; "))
		}

		accepted = append(accepted, *result)

		// A single low-confidence answer earns one second opinion when
		// the job allows it; the pair is merged into a consensus below.
		if report.Severity == models.SeverityMedium && job.RetryLowConfidence && len(accepted) == 1 {
			continue
		}
		break
	}

	final := validate.Merge(accepted)
	span.SetAttributes(
		attribute.String("job.provider", final.Provider),
		attribute.Float64("job.confidence", final.Confidence),
	)

	cfg := boundary.Config{
		CenterLat: job.Latitude,
		CenterLng: job.Longitude,
	}
	if job.Parcel != nil {
		cfg.Polygon = job.Parcel.Polygon
		cfg.Zoom = job.Parcel.Zoom
		cfg.ImageWidth = job.Parcel.ImageWidth
		cfg.ImageHeight = job.Parcel.ImageHeight
	}
	enforced := d.enforcer.Enforce(&final, cfg)
	if dropped := len(final.Detections) - len(enforced.Detections); dropped > 0 {
		metrics.FeaturesFiltered.Add(float64(dropped))
	}

	return enforced, nil
}

// Stop fails every queued job immediately and lets in-flight jobs
// finish. Further submissions are rejected.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	var waiting []*pending
	for _, pr := range bucketOrder {
		waiting = append(waiting, d.queue[pr]...)
		d.queue[pr] = nil
	}
	d.mu.Unlock()

	close(d.stopCh)
	for _, p := range waiting {
		p.done <- outcome{err: models.ErrDispatcherStopped}
	}
	d.updateGauges()
	d.wg.Wait()
}

// QueueDepth reports jobs waiting across all buckets.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, pr := range bucketOrder {
		n += len(d.queue[pr])
	}
	return n
}

// ActiveWorkers reports jobs currently in flight.
func (d *Dispatcher) ActiveWorkers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Dispatcher) updateGauges() {
	metrics.QueueDepthGauge.Set(float64(d.QueueDepth()))
	metrics.ActiveWorkersGauge.Set(float64(d.ActiveWorkers()))
}
