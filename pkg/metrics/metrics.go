package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "collabdocs"

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)

	// DocumentUpdates counts update transactions by outcome (committed|failed).
	DocumentUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "document_updates_total", Help: "Number of document update transactions by result."},
		[]string{"result"},
	)
	VersionsArchived = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "versions_archived_total", Help: "Number of document versions archived."},
	)

	// BroadcastDeliveries counts per-connection deliveries (sent|dropped) and
	// publish failures (failed).
	BroadcastDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "broadcast_deliveries_total", Help: "Number of realtime notifications by result."},
		[]string{"result"},
	)
	WebsocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "websocket_connections", Help: "Open realtime connections."},
	)
	PresenceMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "presence_members", Help: "Presence roster members summed over document channels."},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(DocumentUpdates)
	reg.MustRegister(VersionsArchived)
	reg.MustRegister(BroadcastDeliveries)
	reg.MustRegister(WebsocketConnections)
	reg.MustRegister(PresenceMembers)
}
