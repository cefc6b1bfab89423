package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "crm_status_transitions_total", Help: "Status transition requests by outcome"}, []string{"outcome"})
	EnqueueCounter    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "crm_jobs_enqueued_total", Help: "Jobs submitted to the action queue by kind"}, []string{"kind"})
	EnqueueFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "crm_jobs_enqueue_failures_total", Help: "Actions that could not be enqueued after the transition was recorded"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "crm_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	WorkerSuccess     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "crm_jobs_succeeded_total", Help: "Jobs completed successfully"}, []string{"kind"})
	WorkerRetries     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "crm_jobs_retried_total", Help: "Jobs that failed and will retry"}, []string{"kind"})
	WorkerFailures    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "crm_jobs_failed_total", Help: "Jobs that failed terminally"}, []string{"kind"})
	WorkerPanics      = prometheus.NewCounter(prometheus.CounterOpts{Name: "crm_worker_panics_total", Help: "Handler panics recovered by workers"})
	QueueDepthGauge   = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "crm_queue_jobs", Help: "Jobs in the queue by state"}, []string{"state"})
	FailureAlerts     = prometheus.NewCounter(prometheus.CounterOpts{Name: "crm_queue_failure_alerts_total", Help: "Failure threshold alerts raised by the monitor"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TransitionCounter,
			EnqueueCounter,
			EnqueueFailures,
			RateLimitRejects,
			WorkerSuccess,
			WorkerRetries,
			WorkerFailures,
			WorkerPanics,
			QueueDepthGauge,
			FailureAlerts,
		)
	})
	return promhttp.Handler()
}
