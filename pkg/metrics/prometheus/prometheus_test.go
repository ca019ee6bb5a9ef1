package prometheus

import (
	"testing"
	"time"

	"bank-ledger/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newRegistered(t *testing.T) *PrometheusCollector {
	t.Helper()
	pc := NewPrometheusCollector("ledger_test")
	if err := pc.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return pc
}

func TestRecordOperation(t *testing.T) {
	pc := newRegistered(t)

	pc.RecordOperation("deposit", "ok", time.Millisecond)
	pc.RecordOperation("deposit", "ok", time.Millisecond)
	pc.RecordOperation("withdraw", "insufficient_balance", time.Millisecond)

	if got := testutil.ToFloat64(pc.operations.WithLabelValues("deposit", "ok")); got != 2 {
		t.Errorf("deposit ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pc.operations.WithLabelValues("withdraw", "insufficient_balance")); got != 1 {
		t.Errorf("withdraw insufficient_balance = %v, want 1", got)
	}
}

func TestRecordLookupAndWrites(t *testing.T) {
	pc := newRegistered(t)

	pc.RecordLookup("L1", true, time.Microsecond)
	pc.RecordLookup("L1", false, time.Microsecond)
	pc.RecordCacheWrite("L2", false, time.Millisecond)
	pc.RecordWriteDropped("L1")
	pc.RecordQueueDepth("L1", 7)

	if got := testutil.ToFloat64(pc.lookups.WithLabelValues("L1", "hit")); got != 1 {
		t.Errorf("L1 hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pc.cacheWrites.WithLabelValues("L2", "error")); got != 1 {
		t.Errorf("L2 write errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pc.droppedWrites.WithLabelValues("L1")); got != 1 {
		t.Errorf("L1 dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pc.queueDepth.WithLabelValues("L1")); got != 7 {
		t.Errorf("L1 queue depth = %v, want 7", got)
	}
}

func TestRecordCircuitState(t *testing.T) {
	pc := newRegistered(t)

	pc.RecordCircuitState("store", metrics.CircuitOpen)
	pc.RecordCircuitState("store", metrics.CircuitHalfOpen)

	if got := testutil.ToFloat64(pc.circuitState.WithLabelValues("store")); got != float64(metrics.CircuitHalfOpen) {
		t.Errorf("state = %v, want half-open", got)
	}
	if got := testutil.ToFloat64(pc.circuitOpens.WithLabelValues("store")); got != 1 {
		t.Errorf("opens = %v, want 1", got)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	pc := NewPrometheusCollector("ledger_dup")
	reg := prometheus.NewRegistry()
	if err := pc.Register(reg); err != nil {
		t.Fatal(err)
	}
	if err := pc.Register(reg); err == nil {
		t.Error("second Register should fail")
	}
}
