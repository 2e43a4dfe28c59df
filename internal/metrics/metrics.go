// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_submitted_total", Help: "Jobs accepted by the dispatcher"})
	JobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_completed_total", Help: "Jobs that produced a final result"})
	JobsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_failed_total", Help: "Jobs that ended in a terminal error"})
	JobsRequeued  = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_requeued_total", Help: "Jobs re-queued after a provider rate limit"})

	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_queue_depth", Help: "Jobs waiting across priority buckets"})
	ActiveWorkersGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_active_workers", Help: "Jobs currently in flight"})

	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "analysis_provider_requests_total", Help: "Provider invocations by outcome"},
		[]string{"provider", "outcome"},
	)
	FeaturesFiltered = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_features_filtered_total", Help: "Detections dropped by boundary enforcement"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			JobsRequeued,
			QueueDepthGauge,
			ActiveWorkersGauge,
			ProviderRequests,
			FeaturesFiltered,
		)
	})
	return promhttp.Handler()
}
