// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LegacyReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axlesync_legacy_reads_total",
		Help: "Legacy database reads by outcome",
	}, []string{"status", "table"})

	LegacyReadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "axlesync_legacy_read_duration_seconds",
		Help:    "Round trip time of one isolated legacy read",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axlesync_uploads_total",
		Help: "Record uploads by integration and outcome",
	}, []string{"integration", "status"})

	PassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "axlesync_pass_duration_seconds",
		Help: "Time spent in one automatic upload pass",
	}, []string{"integration"})

	PendingRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "axlesync_pending_records",
		Help: "Records of today still waiting for upload at the start of the last pass",
	}, []string{"integration"})

	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axlesync_remote_requests_total",
		Help: "HTTP requests sent to remote services",
	}, []string{"integration", "op", "status"})

	DroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "axlesync_events_dropped_total",
		Help: "Log events dropped because an observer queue was full",
	})

	PushNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "axlesync_push_notifications_total",
		Help: "Web push deliveries by outcome",
	}, []string{"status"})
)
