package telemetry

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	GranulesSubmitted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "granules_submitted_total", Help: "Granule jobs submitted to the compute backend"})
	JobsSucceeded          = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_succeeded_total", Help: "Job attempts that succeeded"})
	JobsFailedRetryable    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_failed_retryable_total", Help: "Job attempts lost to infrastructure"})
	JobsFailedNonretryable = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_failed_nonretryable_total", Help: "Job attempts that exited nonzero"})
	RetriesEnqueued        = prometheus.NewCounter(prometheus.CounterOpts{Name: "retries_enqueued_total", Help: "New attempts routed to the retry queue"})
	DeadLettered           = prometheus.NewCounter(prometheus.CounterOpts{Name: "dead_lettered_total", Help: "New attempts routed to the DLQ for triage"})
	CapacitySkips          = prometheus.NewCounter(prometheus.CounterOpts{Name: "feeder_capacity_skips_total", Help: "Feeder runs skipped by admission control"})
	LedgerConflicts        = prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_conflicts_total", Help: "Ledger updates lost to a concurrent writer"})
	RequeueFailures        = prometheus.NewCounter(prometheus.CounterOpts{Name: "requeue_failures_total", Help: "Retry messages that failed to resubmit"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			GranulesSubmitted,
			JobsSucceeded,
			JobsFailedRetryable,
			JobsFailedNonretryable,
			RetriesEnqueued,
			DeadLettered,
			CapacitySkips,
			LedgerConflicts,
			RequeueFailures,
		)
	})
	return promhttp.Handler()
}

// AdminRouter builds the health + metrics router every service mounts.
func AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", Handler())
	return r
}
