package p2p

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the P2P subsystem.
type Metrics struct {
	PeersConnected   prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	MessagesRejected *prometheus.CounterVec
}

// NewMetrics creates Prometheus metrics for the P2P subsystem, registering
// them with registerer when it is non-nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tendermint",
			Subsystem: "p2p",
			Name:      "peers_connected",
			Help:      "Number of currently connected peers.",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tendermint",
			Subsystem: "p2p",
			Name:      "messages_received_total",
			Help:      "Total number of consensus packets received by kind.",
		}, []string{"kind"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tendermint",
			Subsystem: "p2p",
			Name:      "messages_sent_total",
			Help:      "Total number of consensus packets published by kind.",
		}, []string{"kind"}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tendermint",
			Subsystem: "p2p",
			Name:      "messages_rejected_total",
			Help:      "Total number of packets rejected at the gossip layer by reason.",
		}, []string{"reason"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.PeersConnected,
			m.MessagesReceived,
			m.MessagesSent,
			m.MessagesRejected,
		)
	}

	return m
}

// NopMetrics returns unregistered metrics for use in tests.
func NopMetrics() *Metrics {
	return NewMetrics(nil)
}
