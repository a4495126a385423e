package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for the studio relay.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	ActiveConnections prometheus.Gauge
	Messages          *prometheus.CounterVec
	BroadcastDrops    prometheus.Counter
	DeltaBytes        prometheus.Histogram
}

// New creates and registers the relay metrics on the default registry.
func New() *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "studio_sessions_active",
			Help: "Live collaborative studio sessions",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "studio_connections_active",
			Help: "Active WebSocket connections across all sessions",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studio_messages_total",
			Help: "Protocol messages by type and direction",
		}, []string{"type", "direction"}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studio_broadcast_drops_total",
			Help: "Fan-out messages dropped because a peer was not writable",
		}),
		DeltaBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "studio_sync_delta_bytes",
			Help:    "Size of merged CRDT deltas in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 6),
		}),
	}

	prometheus.MustRegister(
		m.ActiveSessions,
		m.ActiveConnections,
		m.Messages,
		m.BroadcastDrops,
		m.DeltaBytes,
	)
	return m
}
