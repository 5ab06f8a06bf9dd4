package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the sentinel's Prometheus collectors.
type Metrics struct {
	// Pipeline
	PacketsProcessed prometheus.Counter
	PacketsSkipped   prometheus.Counter
	QueueDropped     prometheus.Counter
	QueueDiscarded   prometheus.Counter

	// Flow table
	ActiveFlows  prometheus.Gauge
	FlowsEvicted prometheus.Counter

	// Detection
	Threats         *prometheus.CounterVec
	AnomalySkipped  *prometheus.CounterVec
	DetectionErrors *prometheus.CounterVec

	// Alerting
	DispatchErrors   *prometheus.CounterVec
	AlertsDropped    prometheus.Counter
	AlertsSuppressed prometheus.Counter

	// Snapshots
	SnapshotErrors *prometheus.CounterVec
}

// New creates a new set of collectors. They are not registered.
func New() *Metrics {
	return &Metrics{
		PacketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sentinel_packets_processed_total",
			Help: "Total number of packets taken from the capture queue",
		}),
		PacketsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sentinel_packets_skipped_total",
			Help: "Total number of packets without a network or TCP layer",
		}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sentinel_queue_dropped_total",
			Help: "Total number of packets dropped because the capture queue was full",
		}),
		QueueDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sentinel_queue_discarded_total",
			Help: "Total number of queued packets discarded at shutdown",
		}),

		ActiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ns_sentinel_active_flows",
			Help: "Number of flows in the flow table",
		}),
		FlowsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sentinel_flows_evicted_total",
			Help: "Total number of flows removed by the idle sweep",
		}),

		Threats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ns_sentinel_threats_total",
			Help: "Total number of threat events detected",
		}, []string{"kind", "rule"}),
		AnomalySkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ns_sentinel_anomaly_skipped_total",
			Help: "Total number of feature vectors not scored for anomalies",
		}, []string{"reason"}),
		DetectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ns_sentinel_detection_errors_total",
			Help: "Total number of detection errors",
		}, []string{"kind"}),

		DispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ns_sentinel_dispatch_errors_total",
			Help: "Total number of failed alert deliveries",
		}, []string{"dispatcher"}),
		AlertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sentinel_alerts_dropped_total",
			Help: "Total number of alerts dropped because the async dispatch queue was full",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ns_sentinel_alerts_suppressed_total",
			Help: "Total number of repeated alerts suppressed by the cooldown",
		}),

		SnapshotErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ns_sentinel_snapshot_errors_total",
			Help: "Total number of failed flow snapshot writes",
		}, []string{"writer"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PacketsProcessed,
		m.PacketsSkipped,
		m.QueueDropped,
		m.QueueDiscarded,
		m.ActiveFlows,
		m.FlowsEvicted,
		m.Threats,
		m.AnomalySkipped,
		m.DetectionErrors,
		m.DispatchErrors,
		m.AlertsDropped,
		m.AlertsSuppressed,
		m.SnapshotErrors,
	}
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// Register registers all metrics with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m)
}
