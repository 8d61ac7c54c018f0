package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics tracks the node's observable state.
type Metrics struct {
	// Consensus.
	ConsensusRound    prometheus.Gauge
	ConsensusStep     prometheus.Gauge
	ProposerNonce     prometheus.Gauge
	VotesCounted      *prometheus.CounterVec // by kind
	MessagesRejected  *prometheus.CounterVec // by reason
	TimeoutsTriggered *prometheus.CounterVec // by step
	BlocksCommitted   prometheus.Counter
	SealSize          prometheus.Histogram
	StepContention    prometheus.Counter

	// Verification.
	SealsVerified *prometheus.CounterVec // by result

	// Storage.
	CommitsStored prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := newMetrics(namespace)
	m.registry = reg

	reg.MustRegister(
		m.ConsensusRound, m.ConsensusStep, m.ProposerNonce,
		m.VotesCounted, m.MessagesRejected, m.TimeoutsTriggered,
		m.BlocksCommitted, m.SealSize, m.StepContention,
		m.SealsVerified,
		m.CommitsStored,
	)

	return m
}

// NopMetrics returns a Metrics instance whose collectors are never exported.
func NopMetrics() *Metrics {
	m := newMetrics("nop")
	m.registry = prometheus.NewRegistry()
	return m
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		ConsensusRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "round",
			Help:      "Current consensus round.",
		}),
		ConsensusStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "step",
			Help:      "Current round step: 0=propose, 1=prevote, 2=precommit, 3=commit.",
		}),
		ProposerNonce: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "proposer_nonce",
			Help:      "Round-robin proposer nonce.",
		}),
		VotesCounted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "votes_counted_total",
			Help:      "Distinct votes counted, by message kind.",
		}, []string{"kind"}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "messages_rejected_total",
			Help:      "Consensus messages rejected, by reason.",
		}, []string{"reason"}),
		TimeoutsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "timeouts_triggered_total",
			Help:      "Step timeouts that advanced the round, by step.",
		}, []string{"step"}),
		BlocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "blocks_committed_total",
			Help:      "Total number of blocks that reached the commit step.",
		}),
		SealSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "seal_signatures",
			Help:      "Number of signatures in each accumulated commit seal.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}),
		StepContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consensus",
			Name:      "step_contention_total",
			Help:      "Step mutations that found the step lock already held.",
		}),

		SealsVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "seals_total",
			Help:      "Header seal verifications, by result.",
		}, []string{"result"}),

		CommitsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "commits_stored_total",
			Help:      "Commit records written to the seal store.",
		}),
	}
}

// Registry returns the Prometheus registry for this metrics instance.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsServer serves Prometheus metrics via HTTP.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a metrics HTTP server.
func NewMetricsServer(addr string, metrics *Metrics, logger *zap.Logger) *MetricsServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

// Start begins serving metrics. It blocks until the server is stopped.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("metrics server starting", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts down the metrics server.
func (ms *MetricsServer) Stop() error {
	return ms.server.Close()
}
