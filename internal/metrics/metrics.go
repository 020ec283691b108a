// Package metrics defines the Prometheus collectors for the chat relay:
// connections, frames, channels, and worker pool health.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_connections_accepted_total",
		Help: "Total number of TCP connections accepted",
	})

	ConnectionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_connections_rejected_total",
		Help: "Total number of TCP connections rejected (capacity or registry full)",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_connections_active",
		Help: "Current number of connected clients",
	})

	FramesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_frames_received_total",
		Help: "Total number of frames read from clients",
	})

	FramesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_frames_sent_total",
		Help: "Total number of frames written to clients",
	})

	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_disconnects_total",
		Help: "Total disconnects by reason",
	}, []string{"reason"})

	ChannelsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_channels_active",
		Help: "Current number of live channels",
	})

	ChannelsDestroyed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_channels_destroyed_total",
		Help: "Total number of channels destroyed (emperor left with no moderators)",
	})

	BroadcastsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_broadcasts_dropped_total",
		Help: "Total number of drain tasks dropped because the worker pool queue was full",
	})

	WorkerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_worker_queue_depth",
		Help: "Current number of tasks waiting in the worker pool queue",
	})

	WorkerQueueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_worker_queue_capacity",
		Help: "Maximum capacity of the worker pool queue",
	})

	MemoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_memory_bytes",
		Help: "Current process memory usage in bytes",
	})

	MemoryLimitBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_memory_limit_bytes",
		Help: "Memory limit in bytes, from cgroup",
	})

	AuditPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_audit_publish_failures_total",
		Help: "Total number of audit event publish failures",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsAccepted,
		ConnectionsRejected,
		ConnectionsActive,
		FramesReceived,
		FramesSent,
		DisconnectsTotal,
		ChannelsActive,
		ChannelsDestroyed,
		BroadcastsDropped,
		WorkerQueueDepth,
		WorkerQueueCapacity,
		MemoryUsageBytes,
		MemoryLimitBytes,
		AuditPublishFailures,
	)
}

// Handler returns the HTTP handler that exposes all registered collectors
// in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
