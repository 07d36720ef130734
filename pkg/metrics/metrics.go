package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Execution engine metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcompany_runs_total",
			Help: "Total runs finalized, by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcompany_run_duration_seconds",
			Help:    "Wall time of a run from spawn to finalization",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"provider"},
	)

	EventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcompany_journal_events_appended_total",
			Help: "Total envelopes appended across all journals",
		},
	)

	// Job runner metrics
	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcompany_jobs_in_flight",
			Help: "Jobs currently running attempts",
		},
	)

	JobAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcompany_job_attempts_total",
			Help: "Job attempts finished, by outcome",
		},
		[]string{"outcome"},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcompany_jobs_completed_total",
			Help: "Jobs finalized, by result status",
		},
		[]string{"result"},
	)

	ProviderBackpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcompany_provider_backpressure_total",
			Help: "Classified non-terminal attempt failures reported to the lane gate",
		},
		[]string{"provider", "class"},
	)

	// Index sync worker metrics
	SyncPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcompany_index_sync_pending",
			Help: "Dirty workspaces waiting for an index sync batch",
		},
	)

	SyncBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcompany_index_sync_batches_total",
			Help: "Sync worker batches executed",
		},
	)

	SyncAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcompany_index_sync_attempts_total",
			Help: "Per-workspace sync attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// Heartbeat metrics
	HeartbeatTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcompany_heartbeat_ticks_total",
			Help: "Heartbeat triage ticks executed",
		},
	)

	HeartbeatWakesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcompany_heartbeat_wakes_total",
			Help: "Workers woken by the heartbeat scheduler",
		},
	)

	HeartbeatSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcompany_heartbeat_suppressed_total",
			Help: "Wake candidates suppressed by the ok-report window",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(EventsAppendedTotal)
	prometheus.MustRegister(JobsInFlight)
	prometheus.MustRegister(JobAttemptsTotal)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(ProviderBackpressureTotal)
	prometheus.MustRegister(SyncPending)
	prometheus.MustRegister(SyncBatchesTotal)
	prometheus.MustRegister(SyncAttemptsTotal)
	prometheus.MustRegister(HeartbeatTicksTotal)
	prometheus.MustRegister(HeartbeatWakesTotal)
	prometheus.MustRegister(HeartbeatSuppressedTotal)
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
