package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting ledger metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type MetricsCollector interface {
	// Ledger operations. outcome is "ok" or an error class.
	RecordOperation(op string, outcome string, duration time.Duration)

	// Cache lookups in the account number index
	RecordLookup(layer string, hit bool, duration time.Duration)
	RecordCacheWrite(layer string, success bool, duration time.Duration)

	// Async index warm-up
	RecordWriteDropped(layer string)
	RecordQueueDepth(layer string, depth int)

	// Circuit breaker
	RecordCircuitState(name string, state CircuitState)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the backend has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
type NoOpCollector struct{}

// RecordOperation does nothing.
func (NoOpCollector) RecordOperation(op string, outcome string, duration time.Duration) {}

// RecordLookup does nothing.
func (NoOpCollector) RecordLookup(layer string, hit bool, duration time.Duration) {}

// RecordCacheWrite does nothing.
func (NoOpCollector) RecordCacheWrite(layer string, success bool, duration time.Duration) {}

// RecordWriteDropped does nothing.
func (NoOpCollector) RecordWriteDropped(layer string) {}

// RecordQueueDepth does nothing.
func (NoOpCollector) RecordQueueDepth(layer string, depth int) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}
