package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/cache/memory"
	"bank-ledger/pkg/cache/mock"
	"bank-ledger/pkg/metrics"
	metricsmem "bank-ledger/pkg/metrics/memory"
)

func aggressiveConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: 50 * time.Millisecond,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     time.Minute,
			ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
		},
	}
}

func TestResilientLayer_PassThrough(t *testing.T) {
	mem := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	rl := NewResilientLayer(mem, DefaultResilientConfig())
	defer rl.Close()
	ctx := context.Background()

	if rl.Name() != "L1" {
		t.Errorf("Name() = %q, want L1", rl.Name())
	}
	if err := rl.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, err := rl.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Fatalf("Get() = %q, %v", v, err)
	}
	if err := rl.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}

func TestResilientLayer_MissDoesNotTripCircuit(t *testing.T) {
	mem := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	rl := NewResilientLayer(mem, aggressiveConfig())
	defer rl.Close()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := rl.Get(ctx, "missing")
		if !cache.IsNotFound(err) {
			t.Fatalf("Get #%d error = %v, want miss", i, err)
		}
	}
	if rl.State() != metrics.CircuitClosed {
		t.Errorf("State() = %v after misses, want closed", rl.State())
	}
}

func TestResilientLayer_TripsOnFailures(t *testing.T) {
	boom := errors.New("connection refused")
	layer := mock.NewFailingLayer("L2", boom)
	collector := metricsmem.NewCollector()
	rl := NewResilientLayerWithMetrics(layer, aggressiveConfig(), collector)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := rl.Get(ctx, "k"); !errors.Is(err, boom) {
			t.Fatalf("Get #%d error = %v, want backend error", i, err)
		}
	}

	_, err := rl.Get(ctx, "k")
	if !cache.IsCircuitOpen(err) {
		t.Fatalf("Get after trip error = %v, want ErrCircuitOpen", err)
	}
	if layer.GetCalls() != 3 {
		t.Errorf("backend calls = %d, want 3 (open circuit must short-circuit)", layer.GetCalls())
	}
	if got := collector.CircuitState("L2"); got != metrics.CircuitOpen {
		t.Errorf("recorded circuit state = %v, want open", got)
	}
}

func TestResilientLayer_Timeout(t *testing.T) {
	slow := &mock.MockLayer{
		NameFunc: func() string { return "slow" },
		GetFunc: func(ctx context.Context, key string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	rl := NewResilientLayer(slow, aggressiveConfig())

	_, err := rl.Get(context.Background(), "k")
	if !cache.IsTimeout(err) {
		t.Fatalf("Get error = %v, want ErrTimeout", err)
	}
}
