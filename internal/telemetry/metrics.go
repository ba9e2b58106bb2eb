package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_http_requests_total",
		Help: "HTTP requests by route pattern and status code",
	}, []string{"route", "method", "code"})
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_rate_limit_rejects_total", Help: "Mutating requests rejected by the rate limiter"})

	DeadLettersRetried = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gateway_dead_letters_retried_total", Help: "Failed jobs moved back to pending"}, []string{"queue"})
	DeadLettersDeleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_dead_letters_deleted_total", Help: "Failed jobs permanently deleted"})
	BackfillBatches    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gateway_backfill_batches_total", Help: "Backfill batches created"}, []string{"queue"})
	BackfillJobs       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gateway_backfill_jobs_enqueued_total", Help: "Pending jobs inserted by backfills"}, []string{"queue"})
	BackfillCancelled  = prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_backfill_jobs_cancelled_total", Help: "Pending backfill jobs cancelled"})
	TriageReruns       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gateway_triage_reruns_enqueued_total", Help: "Triage jobs enqueued by reruns, by filter type"}, []string{"filter"})
	SyncJobs           = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gateway_sync_jobs_total", Help: "Gmail sync jobs created or cancelled"}, []string{"event"})
	BodyFetches        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "gateway_body_fetches_total", Help: "Body retrieval attempts by backend and outcome"}, []string{"backend", "outcome"})
	QueueJobs          = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "gateway_queue_jobs", Help: "Jobs per queue and status as of the last stats read"}, []string{"queue", "status"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequests,
			HTTPDuration,
			RateLimitRejects,
			DeadLettersRetried,
			DeadLettersDeleted,
			BackfillBatches,
			BackfillJobs,
			BackfillCancelled,
			TriageReruns,
			SyncJobs,
			BodyFetches,
			QueueJobs,
		)
	})
	return promhttp.Handler()
}
