// Package metricsx wires github.com/VictoriaMetrics/metrics counters and
// gauges for the relay, grouped the way pkg/api/api0/metrics.go groups
// Atlas's request metrics: one struct, nested fields per outcome.
package metricsx

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Relay holds every counter/gauge the relay engine updates.
type Relay struct {
	set *metrics.Set

	DatagramsForwardedTotal *metrics.Counter
	DatagramsDroppedAuth    *metrics.Counter
	DatagramsDroppedBadLen  *metrics.Counter
	ControlMessagesTotal    *metrics.Counter
	ActiveParticipants      *metrics.Gauge
	LobbyAnnounceTotal      struct {
		Success *metrics.Counter
		Failure *metrics.Counter
	}
	LobbyLatencyReportTotal struct {
		Success *metrics.Counter
		Failure *metrics.Counter
	}
	TCPConnectionsTotal *metrics.Counter
	TCPFrameErrorsTotal *metrics.Counter
}

// NewRelay creates a fresh, independently-writable metrics set so tests can
// instantiate more than one relay without name collisions on the process
// default registry.
func NewRelay(numClients func() float64) *Relay {
	s := metrics.NewSet()
	r := &Relay{set: s}

	r.DatagramsForwardedTotal = s.NewCounter(`ovrelay_datagrams_forwarded_total`)
	r.DatagramsDroppedAuth = s.NewCounter(`ovrelay_datagrams_dropped_total{reason="auth"}`)
	r.DatagramsDroppedBadLen = s.NewCounter(`ovrelay_datagrams_dropped_total{reason="malformed"}`)
	r.ControlMessagesTotal = s.NewCounter(`ovrelay_control_messages_total`)
	r.ActiveParticipants = s.NewGauge(`ovrelay_active_participants`, numClients)
	r.LobbyAnnounceTotal.Success = s.NewCounter(`ovrelay_lobby_announce_total{result="success"}`)
	r.LobbyAnnounceTotal.Failure = s.NewCounter(`ovrelay_lobby_announce_total{result="failure"}`)
	r.LobbyLatencyReportTotal.Success = s.NewCounter(`ovrelay_lobby_latency_report_total{result="success"}`)
	r.LobbyLatencyReportTotal.Failure = s.NewCounter(`ovrelay_lobby_latency_report_total{result="failure"}`)
	r.TCPConnectionsTotal = s.NewCounter(`ovrelay_tcp_connections_total`)
	r.TCPFrameErrorsTotal = s.NewCounter(`ovrelay_tcp_frame_errors_total`)

	return r
}

// WritePrometheus writes this relay's metrics in Prometheus text format.
func (r *Relay) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
}
