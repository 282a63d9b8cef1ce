package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the engine's Prometheus-compatible instrumentation,
// namespaced "flowcore_". The per-node and per-run metrics are labeled
// by flow_id rather than run_id, since a run's cardinality is unbounded
// over a process lifetime while the set of flows is not; the active-run,
// queue-depth and lease-reclaim metrics carry no labels.
type Metrics struct {
	activeRuns     prometheus.Gauge
	queueDepth     prometheus.Gauge
	nodeLatency    *prometheus.HistogramVec
	retriesTotal   *prometheus.CounterVec
	nodeFailures   *prometheus.CounterVec
	runsCompleted  *prometheus.CounterVec
	leaseReclaimed prometheus.Counter
}

// NewMetrics registers the engine's metrics against registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowcore_active_runs",
			Help: "Runs currently leased to a worker.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowcore_queue_depth",
			Help: "Runs waiting to be claimed.",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowcore_node_latency_ms",
			Help:    "Node execution duration in milliseconds.",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"flow_id", "node_kind", "status"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_retries_total",
			Help: "Retry attempts across all nodes.",
		}, []string{"flow_id", "node_kind"}),
		nodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_node_failures_total",
			Help: "Terminal node failures by error code.",
		}, []string{"flow_id", "node_kind", "code"}),
		runsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flowcore_runs_completed_total",
			Help: "Completed runs by terminal status.",
		}, []string{"flow_id", "status"}),
		leaseReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowcore_leases_reclaimed_total",
			Help: "Expired leases released by the periodic reclaim loop because their owner went silent.",
		}),
	}
}

func (m *Metrics) ObserveNodeLatency(flowID, nodeKind, status string, ms float64) {
	m.nodeLatency.WithLabelValues(flowID, nodeKind, status).Observe(ms)
}

func (m *Metrics) IncRetry(flowID, nodeKind string) {
	m.retriesTotal.WithLabelValues(flowID, nodeKind).Inc()
}

func (m *Metrics) IncNodeFailure(flowID, nodeKind, code string) {
	m.nodeFailures.WithLabelValues(flowID, nodeKind, code).Inc()
}

func (m *Metrics) IncRunCompleted(flowID, status string) {
	m.runsCompleted.WithLabelValues(flowID, status).Inc()
}

func (m *Metrics) IncLeaseReclaimed() {
	m.leaseReclaimed.Inc()
}

func (m *Metrics) SetActiveRuns(n float64) { m.activeRuns.Set(n) }
func (m *Metrics) SetQueueDepth(n float64) { m.queueDepth.Set(n) }
