package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bank-ledger/pkg/cache/memory"
	"bank-ledger/pkg/cache/mock"
	metricsmem "bank-ledger/pkg/metrics/memory"
)

func TestNewAsyncWriterDefaults(t *testing.T) {
	w := NewAsyncWriter(mock.NewMockLayer("L1"), AsyncWriterConfig{})
	defer w.Close()

	if cap(w.queue) != 1000 {
		t.Errorf("queue size = %d, want 1000", cap(w.queue))
	}
	if w.config.Workers != 2 {
		t.Errorf("workers = %d, want 2", w.config.Workers)
	}
	if w.config.MaxWaitTime != 10*time.Millisecond {
		t.Errorf("MaxWaitTime = %v, want 10ms", w.config.MaxWaitTime)
	}
}

func TestAsyncWriterWritesReachLayer(t *testing.T) {
	layer := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1"})
	defer layer.Close()
	collector := metricsmem.NewCollector()

	w := NewAsyncWriterWithMetrics(layer, AsyncWriterConfig{QueueSize: 10, Workers: 2}, collector)

	for i := 0; i < 5; i++ {
		if err := w.Write(context.Background(), fmt.Sprintf("acct:%d", i), fmt.Sprint(i), time.Minute); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	for i := 0; i < 5; i++ {
		got, err := layer.Get(context.Background(), fmt.Sprintf("acct:%d", i))
		if err != nil || got != fmt.Sprint(i) {
			t.Errorf("acct:%d = %q, %v", i, got, err)
		}
	}
	if got := collector.Layer("L1").Writes; got != 5 {
		t.Errorf("recorded writes = %d, want 5", got)
	}
	w.Close()
}

func TestAsyncWriterDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	layer := mock.NewMockLayer("L1")
	layer.SetFunc = func(ctx context.Context, key, value string, ttl time.Duration) error {
		<-block
		return nil
	}
	collector := metricsmem.NewCollector()

	w := NewAsyncWriterWithMetrics(layer, AsyncWriterConfig{QueueSize: 1, Workers: 1, MaxWaitTime: -1}, collector)
	defer w.Close()
	defer close(block)

	var dropped int
	for i := 0; i < 10; i++ {
		if err := w.Write(context.Background(), "k", "v", 0); errors.Is(err, ErrQueueFull) {
			dropped++
		}
	}

	if dropped == 0 {
		t.Fatal("expected some writes to be dropped")
	}
	stats := w.Stats()
	if stats.DroppedWrites != int64(dropped) {
		t.Errorf("DroppedWrites = %d, want %d", stats.DroppedWrites, dropped)
	}
	if got := collector.Layer("L1").DroppedWrites; got != int64(dropped) {
		t.Errorf("recorded drops = %d, want %d", got, dropped)
	}
}

func TestAsyncWriterCountsFailures(t *testing.T) {
	layer := mock.NewFailingLayer("L2", errors.New("redis down"))
	collector := metricsmem.NewCollector()

	w := NewAsyncWriterWithMetrics(layer, AsyncWriterConfig{}, collector)
	if err := w.Write(context.Background(), "k", "v", 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(time.Second); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	w.Close()

	if got := w.Stats().FailedWrites; got != 1 {
		t.Errorf("FailedWrites = %d, want 1", got)
	}
	if got := collector.Layer("L2").WriteErrors; got != 1 {
		t.Errorf("recorded write errors = %d, want 1", got)
	}
}

func TestAsyncWriterCloseDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	layer := mock.NewMockLayer("L1")
	layer.SetFunc = func(ctx context.Context, key, value string, ttl time.Duration) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[key] = true
		mu.Unlock()
		return nil
	}

	w := NewAsyncWriter(layer, AsyncWriterConfig{QueueSize: 50, Workers: 1})
	for i := 0; i < 20; i++ {
		if err := w.Write(context.Background(), fmt.Sprint(i), "v", 0); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	w.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 20 {
		t.Errorf("applied %d writes, want 20", len(seen))
	}
}

func TestAsyncWriterClosed(t *testing.T) {
	w := NewAsyncWriter(mock.NewMockLayer("L1"), AsyncWriterConfig{})
	w.Close()
	w.Close()

	if err := w.Write(context.Background(), "k", "v", 0); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Write after Close = %v, want ErrWriterClosed", err)
	}
}

func TestAsyncWriterCanceledContext(t *testing.T) {
	w := NewAsyncWriter(mock.NewMockLayer("L1"), AsyncWriterConfig{})
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, "k", "v", 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Write = %v, want context.Canceled", err)
	}
}

func TestAsyncWriterFlushTimeout(t *testing.T) {
	block := make(chan struct{})
	layer := mock.NewMockLayer("L1")
	layer.SetFunc = func(ctx context.Context, key, value string, ttl time.Duration) error {
		<-block
		return nil
	}

	w := NewAsyncWriter(layer, AsyncWriterConfig{Workers: 1})
	defer w.Close()
	defer close(block)

	_ = w.Write(context.Background(), "a", "v", 0)
	_ = w.Write(context.Background(), "b", "v", 0)

	if err := w.Flush(20 * time.Millisecond); !errors.Is(err, ErrFlushTimeout) {
		t.Errorf("Flush = %v, want ErrFlushTimeout", err)
	}
}
