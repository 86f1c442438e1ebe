// Package metrics provides Prometheus instrumentation for the chat
// application. It exposes gauges for connection and room counts, counters for
// message throughput and fan-out failures, and a histogram for AI request
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_active_rooms",
		Help: "Current number of rooms with at least one member",
	})

	// MessagesTotal counts inbound events routed to broadcast, labeled by
	// kind: "text", "gif", "typing", or "ai".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_messages_total",
		Help: "Total number of inbound events routed",
	}, []string{"kind"})

	// BroadcastFailures counts per-member delivery failures during fan-out.
	BroadcastFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atlas_broadcast_failures_total",
		Help: "Total number of per-member broadcast delivery failures",
	})

	// AIRequestsTotal counts AI exchanges by outcome: "ok", "failed",
	// "timeout", or "unmatched".
	AIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_ai_requests_total",
		Help: "Total number of AI exchanges by outcome",
	}, []string{"status"})

	// HeartbeatTimeouts counts connections evicted by the heartbeat sweep
	// after going silent past the liveness deadline.
	HeartbeatTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "atlas_heartbeat_timeouts_total",
		Help: "Total number of connections evicted for missing heartbeats",
	})

	// AIRequestSeconds records completion backend latency in seconds.
	AIRequestSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlas_ai_request_seconds",
		Help:    "AI completion backend latency in seconds",
		Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveRooms,
		MessagesTotal,
		BroadcastFailures,
		HeartbeatTimeouts,
		AIRequestsTotal,
		AIRequestSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
