// Package memory is an in-process metrics collector for tests and local runs.
package memory

import (
	"sync"
	"time"

	"bank-ledger/pkg/metrics"
)

// Collector implements metrics.MetricsCollector in memory.
type Collector struct {
	mu sync.RWMutex

	operations map[opKey]int64
	latencies  map[string][]time.Duration

	layers   map[string]*LayerMetrics
	circuits map[string]metrics.CircuitState
	opens    map[string]int64
}

type opKey struct {
	op, outcome string
}

// LayerMetrics holds index metrics for a single cache layer.
type LayerMetrics struct {
	Hits          int64
	Misses        int64
	Writes        int64
	WriteErrors   int64
	DroppedWrites int64
	QueueDepth    int

	LookupLatencies []time.Duration
}

var _ metrics.MetricsCollector = (*Collector)(nil)

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		operations: make(map[opKey]int64),
		latencies:  make(map[string][]time.Duration),
		layers:     make(map[string]*LayerMetrics),
		circuits:   make(map[string]metrics.CircuitState),
		opens:      make(map[string]int64),
	}
}

// layer expects mc.mu held for writing.
func (mc *Collector) layer(name string) *LayerMetrics {
	lm, ok := mc.layers[name]
	if !ok {
		lm = &LayerMetrics{}
		mc.layers[name] = lm
	}
	return lm
}

func (mc *Collector) RecordOperation(op string, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.operations[opKey{op, outcome}]++
	mc.latencies[op] = append(mc.latencies[op], duration)
}

func (mc *Collector) RecordLookup(layer string, hit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if hit {
		lm.Hits++
	} else {
		lm.Misses++
	}
	lm.LookupLatencies = append(lm.LookupLatencies, duration)
}

func (mc *Collector) RecordCacheWrite(layer string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	lm := mc.layer(layer)
	if success {
		lm.Writes++
	} else {
		lm.WriteErrors++
	}
}

func (mc *Collector) RecordWriteDropped(layer string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layer(layer).DroppedWrites++
}

func (mc *Collector) RecordQueueDepth(layer string, depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.layer(layer).QueueDepth = depth
}

func (mc *Collector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.circuits[name] = state
	if state == metrics.CircuitOpen {
		mc.opens[name]++
	}
}

// Operations returns how many times op finished with outcome.
func (mc *Collector) Operations(op, outcome string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.operations[opKey{op, outcome}]
}

// OperationLatencies returns a copy of the recorded latencies for op.
func (mc *Collector) OperationLatencies(op string) []time.Duration {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return append([]time.Duration(nil), mc.latencies[op]...)
}

// Layer returns a snapshot of the metrics for a cache layer.
func (mc *Collector) Layer(name string) LayerMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	lm, ok := mc.layers[name]
	if !ok {
		return LayerMetrics{}
	}
	snapshot := *lm
	snapshot.LookupLatencies = append([]time.Duration(nil), lm.LookupLatencies...)
	return snapshot
}

// HitRate returns the hit ratio of a layer, 0 when it saw no lookups.
func (mc *Collector) HitRate(name string) float64 {
	lm := mc.Layer(name)
	total := lm.Hits + lm.Misses
	if total == 0 {
		return 0
	}
	return float64(lm.Hits) / float64(total)
}

// CircuitState returns the last recorded state of a breaker.
func (mc *Collector) CircuitState(name string) metrics.CircuitState {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.circuits[name]
}

// CircuitOpens returns how many times a breaker opened.
func (mc *Collector) CircuitOpens(name string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.opens[name]
}

// Reset clears all recorded metrics.
func (mc *Collector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.operations = make(map[opKey]int64)
	mc.latencies = make(map[string][]time.Duration)
	mc.layers = make(map[string]*LayerMetrics)
	mc.circuits = make(map[string]metrics.CircuitState)
	mc.opens = make(map[string]int64)
}
