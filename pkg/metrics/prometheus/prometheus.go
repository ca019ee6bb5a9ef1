// Package prometheus exports ledger metrics to Prometheus.
package prometheus

import (
	"time"

	"bank-ledger/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements metrics.MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Ledger operations
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Number index
	lookups       *prometheus.CounterVec
	lookupLatency *prometheus.HistogramVec
	cacheWrites   *prometheus.CounterVec
	droppedWrites *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec
}

var _ metrics.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a collector. Call Register before use.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		namespace: namespace,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of ledger operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Ledger operation latency, lock waits included",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_lookups_total",
				Help:      "Account number index lookups per layer and result",
			},
			[]string{"layer", "result"},
		),
		lookupLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "index_lookup_duration_seconds",
				Help:      "Account number index lookup latency per layer",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
			},
			[]string{"layer"},
		),
		cacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_writes_total",
				Help:      "Account number index writes per layer and status",
			},
			[]string{"layer", "status"},
		),
		droppedWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_dropped_writes_total",
				Help:      "Index warm-up writes dropped because the queue was full",
			},
			[]string{"layer"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "index_queue_depth",
				Help:      "Pending index warm-up writes per layer",
			},
			[]string{"layer"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"breaker"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
	}
}

// Register registers all metrics with reg.
func (pc *PrometheusCollector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.operations,
		pc.operationDuration,
		pc.lookups,
		pc.lookupLatency,
		pc.cacheWrites,
		pc.droppedWrites,
		pc.queueDepth,
		pc.circuitOpens,
		pc.circuitState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister registers all metrics with the default registry.
func (pc *PrometheusCollector) MustRegister() {
	if err := pc.Register(prometheus.DefaultRegisterer); err != nil {
		panic(err)
	}
}

func (pc *PrometheusCollector) RecordOperation(op string, outcome string, duration time.Duration) {
	pc.operations.WithLabelValues(op, outcome).Inc()
	pc.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordLookup(layer string, hit bool, duration time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	pc.lookups.WithLabelValues(layer, result).Inc()
	pc.lookupLatency.WithLabelValues(layer).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordCacheWrite(layer string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	pc.cacheWrites.WithLabelValues(layer, status).Inc()
}

func (pc *PrometheusCollector) RecordWriteDropped(layer string) {
	pc.droppedWrites.WithLabelValues(layer).Inc()
}

func (pc *PrometheusCollector) RecordQueueDepth(layer string, depth int) {
	pc.queueDepth.WithLabelValues(layer).Set(float64(depth))
}

func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}
