// Package metrics exposes Prometheus collectors for a message connector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "directmesh"

// Metrics groups the connector collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	FramesSent        *prometheus.CounterVec
	FramesReceived    *prometheus.CounterVec
	Handshakes        *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
	PendingHandshakes prometheus.Gauge
	Ready             prometheus.Gauge
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to peer links, by frame type.",
		}, []string{"type"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames read from active peer links, by frame type.",
		}, []string{"type"}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Finished handshakes, by outcome.",
		}, []string{"outcome"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported by the connector, by kind.",
		}, []string{"kind"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Verified peer links.",
		}),
		PendingHandshakes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_handshakes",
			Help:      "Links still exchanging IDENTIFY frames.",
		}),
		Ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "1 when the connector has reached its minimum connection count.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.FramesSent, m.FramesReceived, m.Handshakes, m.Errors,
			m.ActiveConnections, m.PendingHandshakes, m.Ready)
	}
	return m
}

func (m *Metrics) FrameSent(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesSent.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) Handshake(outcome string) {
	if m == nil {
		return
	}
	m.Handshakes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Error(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}

// Links records the current number of active and pending links.
func (m *Metrics) Links(active, pending int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(active))
	m.PendingHandshakes.Set(float64(pending))
}

func (m *Metrics) SetReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.Ready.Set(1)
	} else {
		m.Ready.Set(0)
	}
}
