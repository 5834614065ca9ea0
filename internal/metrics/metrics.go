// Package metrics exposes prometheus collectors for a chat session.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// statuses lists every connection status so the gauge can be one-hot.
var statuses = []string{"idle", "connecting", "connected", "reconnecting", "disconnected", "offline"}

// Metrics holds the session collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Status            *prometheus.GaugeVec
	ReconnectAttempts prometheus.Counter
	QueueDepth        prometheus.Gauge
	PendingAcks       prometheus.Gauge
	AckOutcomes       *prometheus.CounterVec
	FramesIn          *prometheus.CounterVec
	FramesOut         *prometheus.CounterVec
	MalformedFrames   prometheus.Counter
	HeartbeatRTT      prometheus.Histogram
}

// New registers the session collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Status: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatd_connection_status",
			Help: "Current connection status (1 for the active status)",
		}, []string{"status"}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatd_reconnect_attempts_total",
			Help: "Total number of scheduled reconnect attempts",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatd_outbound_queue_depth",
			Help: "Messages waiting in the outbound queue",
		}),
		PendingAcks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatd_pending_acks",
			Help: "Acknowledged sends awaiting a server response",
		}),
		AckOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_ack_outcomes_total",
			Help: "Settled acknowledged sends by outcome",
		}, []string{"outcome"}),
		FramesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_frames_received_total",
			Help: "Inbound frames by message type",
		}, []string{"type"}),
		FramesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_frames_sent_total",
			Help: "Outbound frames by message type",
		}, []string{"type"}),
		MalformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatd_malformed_frames_total",
			Help: "Inbound frames dropped because they could not be decoded",
		}),
		HeartbeatRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatd_heartbeat_rtt_seconds",
			Help:    "Ping to pong round trip time",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

func (m *Metrics) SetStatus(status string) {
	if m == nil || m.Status == nil {
		return
	}
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.Status.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) RecordReconnect() {
	if m == nil || m.ReconnectAttempts == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil || m.QueueDepth == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SetPendingAcks(n int) {
	if m == nil || m.PendingAcks == nil {
		return
	}
	m.PendingAcks.Set(float64(n))
}

func (m *Metrics) RecordAckOutcome(outcome string) {
	if m == nil || m.AckOutcomes == nil {
		return
	}
	m.AckOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordFrameIn(msgType string) {
	if m == nil || m.FramesIn == nil {
		return
	}
	m.FramesIn.WithLabelValues(msgType).Inc()
}

func (m *Metrics) RecordFrameOut(msgType string) {
	if m == nil || m.FramesOut == nil {
		return
	}
	m.FramesOut.WithLabelValues(msgType).Inc()
}

func (m *Metrics) RecordMalformed() {
	if m == nil || m.MalformedFrames == nil {
		return
	}
	m.MalformedFrames.Inc()
}

func (m *Metrics) ObserveRTT(d time.Duration) {
	if m == nil || m.HeartbeatRTT == nil {
		return
	}
	m.HeartbeatRTT.Observe(d.Seconds())
}
