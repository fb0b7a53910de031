// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

var (
	ReferenceCodesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reference_codes_issued_total",
			Help: "Reference codes handed out, by outcome (new, reused, extended)",
		},
		[]string{"outcome"},
	)

	ReferenceCodeCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reference_code_collisions_total",
			Help: "Generated reference codes rejected because they were already in use",
		},
	)

	ReferenceCodeLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reference_code_lookups_total",
			Help: "Reference code resolutions by result (found, expired, not_found, malformed)",
		},
		[]string{"result"},
	)

	ChannelSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_switches_total",
			Help: "Applications continued on another channel",
		},
		[]string{"target_channel", "reused"},
	)

	Synchronizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "application_synchronizations_total",
			Help: "Sibling synchronizations by outcome (merged, unchanged, failed)",
		},
		[]string{"outcome"},
	)

	SyncInconsistencies = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "application_sync_inconsistencies",
			Help:    "Inconsistencies found per sync status check",
			Buckets: []float64{0, 1, 2, 5, 10, 25},
		},
	)

	StatusUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "application_status_updates_total",
			Help: "Back-office status updates by target status",
		},
		[]string{"status"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Outbound applicant messages by transport and result",
		},
		[]string{"transport", "result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request latency",
		},
		[]string{"route", "method"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)
