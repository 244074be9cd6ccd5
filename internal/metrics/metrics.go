// Package metrics exposes the control plane's Prometheus instrumentation:
// counters and histograms for intent executions, batch sweep runs, lock
// contention, and resolver calls. Grounded on the teacher's own
// internal/metrics package (promauto-registered package-level vars, one
// file, no registry plumbing), generalized from per-container update
// counters to the new per-intent/per-sweep domain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IntentExecutionsTotal counts every completed Intent Executor run, by
	// terminal status (completed/partial/failed).
	IntentExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_intent_executions_total",
		Help: "Total number of intent executions by terminal status.",
	}, []string{"status", "trigger"})

	IntentExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_intent_execution_duration_seconds",
		Help:    "Duration of intent executions end to end.",
		Buckets: prometheus.DefBuckets,
	})

	// ContainersUpgradedTotal/ContainersFailedTotal/ContainersSkippedTotal
	// tally the per-container outcomes folded into every execution.
	ContainersUpgradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_containers_upgraded_total",
		Help: "Total number of containers upgraded by the intent executor.",
	})
	ContainersFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_containers_failed_total",
		Help: "Total number of container upgrade attempts that failed.",
	})
	ContainersSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_containers_skipped_total",
		Help: "Total number of matched containers skipped (dry run or lock contention).",
	})

	// CronFiresTotal counts cron evaluator fires, by whether the intent's
	// execution ultimately succeeded.
	CronFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_cron_fires_total",
		Help: "Total number of cron-scheduled intent fires by outcome.",
	}, []string{"outcome"})

	// BatchRunsTotal/BatchRunDuration cover the batch sweep runner, by job
	// kind and terminal status.
	BatchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_batch_runs_total",
		Help: "Total number of batch sweep runs by job kind and status.",
	}, []string{"job_kind", "status"})

	BatchRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_batch_run_duration_seconds",
		Help:    "Duration of batch sweep runs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job_kind"})

	BatchUpdatesDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_batch_updates_detected_total",
		Help: "Total number of newly detected updates surfaced by a batch sweep.",
	}, []string{"job_kind"})

	// LockContentionTotal counts every upgrade attempt that lost a
	// container lock race to another in-flight execution.
	LockContentionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_lock_contention_total",
		Help: "Total number of upgrade attempts skipped due to lock contention.",
	})

	// ResolverCallsTotal/ResolverErrorsTotal cover every Upstream Resolver
	// call, by source (registry/forge-A/forge-B).
	ResolverCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_resolver_calls_total",
		Help: "Total number of upstream resolve attempts by source.",
	}, []string{"source"})

	ResolverErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_resolver_errors_total",
		Help: "Total number of upstream resolve failures by source and reason.",
	}, []string{"source", "reason"})
)
