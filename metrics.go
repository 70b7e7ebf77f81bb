package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the dispatcher, named the way the teacher's own
// qlog events are named: one series per observable decision in the
// ProcessPacket pipeline (spec.md §4.G), not per internal data structure.
var (
	metricPacketsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qdispatch_packets_dropped_total",
			Help: "Packets dropped by the dispatcher, by reason.",
		},
		[]string{"reason"},
	)

	metricSessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qdispatch_sessions_created_total",
			Help: "Sessions created from a fully-extracted CHLO.",
		},
	)

	metricStatelessResetsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qdispatch_stateless_resets_sent_total",
			Help: "Stateless reset packets sent for unrecognized connection IDs.",
		},
	)

	metricVersionNegotiationsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qdispatch_version_negotiation_packets_sent_total",
			Help: "Version negotiation packets sent for unsupported versions.",
		},
	)

	metricBufferedConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qdispatch_buffered_connections",
			Help: "Distinct connection IDs currently holding a buffered packet list.",
		},
	)

	metricBufferedPackets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qdispatch_buffered_packets",
			Help: "Datagrams currently held across all buffered packet lists.",
		},
	)

	metricTimeWaitEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qdispatch_time_wait_entries",
			Help: "Connection IDs currently tracked in the time-wait list.",
		},
	)

	metricActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qdispatch_active_sessions",
			Help: "Connection IDs currently mapped to a live session.",
		},
	)

	metricNewConnectionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qdispatch_new_connections_rejected_total",
			Help: "CHLOs that cleared validity checks but whose SessionFactory declined or failed (spec's OnNewConnectionRejected).",
		},
	)
)

// RecordPacketDropped increments the drop counter for the given reason. The
// dispatcher calls this alongside every tracer.DroppedPacket, so a reason
// string is always whatever the logging.PacketDropReason stringifies to.
func RecordPacketDropped(reason string) {
	metricPacketsDropped.WithLabelValues(reason).Inc()
}

// RefreshGauges samples the dispatcher's current queue sizes into the gauge
// metrics above. It is cheap enough to call on every ProcessBufferedChlos
// turn, or on a short ticker from cmd/qdispatchd.
func (d *Dispatcher) RefreshGauges() {
	connections, packets := d.store.Stats()
	metricBufferedConnections.Set(float64(connections))
	metricBufferedPackets.Set(float64(packets))
	metricTimeWaitEntries.Set(float64(d.waits.Len()))
	metricActiveSessions.Set(float64(d.conns.Len()))
}
