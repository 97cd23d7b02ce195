// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsStarted counts pipeline runs by trigger source.
	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xagent_runs_started_total",
		Help: "Pipeline runs started, by source.",
	}, []string{"source"})

	// RunsFinished counts pipeline runs by terminal status.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xagent_runs_finished_total",
		Help: "Pipeline runs finished, by status.",
	}, []string{"status"})

	// RunDuration observes end-to-end pipeline latency.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xagent_run_duration_seconds",
		Help:    "End-to-end pipeline run duration.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// DraftsCreated counts drafts by initial status.
	DraftsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xagent_drafts_created_total",
		Help: "Drafts created, by initial status.",
	}, []string{"status"})

	// DraftsPublished counts successful publishes.
	DraftsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xagent_drafts_published_total",
		Help: "Drafts published successfully.",
	})

	// NotificationFailures counts best-effort delivery failures by channel.
	NotificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xagent_notification_failures_total",
		Help: "Notification delivery failures, by channel.",
	}, []string{"channel"})
)
