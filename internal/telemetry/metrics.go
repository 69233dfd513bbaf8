package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PacketsCaptured counts total frames received by the capture adapter.
	PacketsCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rdbtunnel",
			Name:      "packets_captured_total",
			Help:      "Total number of L2 frames captured on the physical interface",
		},
		[]string{"interface"},
	)

	// PacketsFirewalled counts frames evaluated by the firewall, by
	// disposition (accepted/rejected).
	PacketsFirewalled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rdbtunnel",
			Name:      "packets_firewalled_total",
			Help:      "Total number of frames evaluated by the firewall, by disposition",
		},
		[]string{"disposition"},
	)

	// PacketsStaged counts frames successfully committed by the BatchWriter.
	PacketsStaged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rdbtunnel",
			Name:      "packets_staged_total",
			Help:      "Total number of frames committed to the store",
		},
		[]string{"interface"},
	)

	// BatchCommitFailures counts failed BatchWriter commits.
	BatchCommitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rdbtunnel",
			Name:      "batch_commit_failures_total",
			Help:      "Total number of failed chunked batch commits",
		},
		[]string{},
	)

	// PacketsPolled counts rows fetched by the poller.
	PacketsPolled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rdbtunnel",
			Name:      "packets_polled_total",
			Help:      "Total number of rows fetched by the poller",
		},
		[]string{},
	)

	// InjectionsTotal counts total injection attempts.
	InjectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rdbtunnel",
			Name:      "injection_total",
			Help:      "Total number of frame injection attempts",
		},
		[]string{"interface"},
	)

	// InjectionErrors counts failed injection attempts.
	InjectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rdbtunnel",
			Name:      "injection_errors_total",
			Help:      "Total number of failed frame injection attempts",
		},
		[]string{"interface"},
	)

	// StagingBufferDepth reports the current StagingBuffer length.
	StagingBufferDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rdbtunnel",
			Name:      "staging_buffer_depth",
			Help:      "Current number of parsed frames awaiting commit",
		},
		[]string{},
	)

	// TcpFlowsTracked reports the current TcpTracker flow count.
	TcpFlowsTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rdbtunnel",
			Name:      "tcp_flows_tracked",
			Help:      "Current number of tracked TCP flows",
		},
		[]string{},
	)

	// ReassemblyBuffersActive reports the current IpReassembler buffer count.
	ReassemblyBuffersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rdbtunnel",
			Name:      "reassembly_buffers_active",
			Help:      "Current number of in-flight IPv4 fragment groups",
		},
		[]string{},
	)

	// Ensure metrics are only registered once.
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry.
// This function is idempotent and can be called multiple times safely.
func InitMetrics() {
	once.Do(func() {
		// Register metrics, ignoring errors if already registered. This
		// prevents panics when metrics are already in the registry.
		prometheus.DefaultRegisterer.Register(PacketsCaptured)
		prometheus.DefaultRegisterer.Register(PacketsFirewalled)
		prometheus.DefaultRegisterer.Register(PacketsStaged)
		prometheus.DefaultRegisterer.Register(BatchCommitFailures)
		prometheus.DefaultRegisterer.Register(PacketsPolled)
		prometheus.DefaultRegisterer.Register(InjectionsTotal)
		prometheus.DefaultRegisterer.Register(InjectionErrors)
		prometheus.DefaultRegisterer.Register(StagingBufferDepth)
		prometheus.DefaultRegisterer.Register(TcpFlowsTracked)
		prometheus.DefaultRegisterer.Register(ReassemblyBuffersActive)
	})
}
