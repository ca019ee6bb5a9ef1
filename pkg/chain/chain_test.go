package chain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/cache/memory"
	"bank-ledger/pkg/cache/mock"
	metricsmem "bank-ledger/pkg/metrics/memory"
)

func newMemory(name string) *memory.MemoryCache {
	return memory.NewMemoryCache(memory.MemoryCacheConfig{Name: name})
}

func TestNewRequiresLayers(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error for an empty chain")
	}

	c, err := New(Options{}, mock.NewMockLayer("L1"), mock.NewMockLayer("L2"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if got := c.String(); got != "chain(L1 -> L2)" {
		t.Errorf("String() = %q", got)
	}
}

func TestGetFallsThroughAndWarms(t *testing.T) {
	l1, l2 := newMemory("L1"), newMemory("L2")
	ctx := context.Background()
	if err := l2.Set(ctx, "account:number:1234567890123", "42", time.Hour); err != nil {
		t.Fatal(err)
	}

	collector := metricsmem.NewCollector()
	c, err := New(Options{Metrics: collector}, l1, l2)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	got, err := c.Get(ctx, "account:number:1234567890123")
	if err != nil || got != "42" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := c.Flush(time.Second); err != nil {
		t.Fatal(err)
	}

	if v, err := l1.Get(ctx, "account:number:1234567890123"); err != nil || v != "42" {
		t.Errorf("L1 not warmed: %q, %v", v, err)
	}
	if lm := collector.Layer("L1"); lm.Misses != 1 || lm.Writes != 1 {
		t.Errorf("L1 misses/writes = %d/%d, want 1/1", lm.Misses, lm.Writes)
	}
	if lm := collector.Layer("L2"); lm.Hits != 1 {
		t.Errorf("L2 hits = %d, want 1", lm.Hits)
	}
}

func TestGetMissEverywhere(t *testing.T) {
	c, err := New(Options{}, newMemory("L1"), newMemory("L2"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.Get(context.Background(), "account:number:missing")
	if !cache.IsNotFound(err) {
		t.Errorf("Get = %v, want not found", err)
	}
}

func TestGetSkipsBrokenLayer(t *testing.T) {
	broken := mock.NewFailingLayer("L1", errors.New("connection refused"))
	l2 := newMemory("L2")
	ctx := context.Background()
	_ = l2.Set(ctx, "k", "7", time.Hour)

	c, err := New(Options{}, broken, l2)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	got, err := c.Get(ctx, "k")
	if err != nil || got != "7" {
		t.Errorf("Get = %q, %v", got, err)
	}
}

func TestGetReturnsLayerErrorWhenAllFail(t *testing.T) {
	boom := errors.New("connection refused")
	c, err := New(Options{}, mock.NewFailingLayer("L1", boom))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Get(context.Background(), "k"); !errors.Is(err, boom) {
		t.Errorf("Get = %v, want %v", err, boom)
	}
}

func TestGetSingleflight(t *testing.T) {
	var calls atomic.Int64
	release := make(chan struct{})
	slow := mock.NewMockLayer("L1")
	slow.GetFunc = func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		<-release
		return "1", nil
	}

	c, err := New(Options{}, slow)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := c.Get(context.Background(), "k"); err != nil || v != "1" {
				t.Errorf("Get = %q, %v", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n >= 10 {
		t.Errorf("layer saw %d calls, want requests to be shared", n)
	}
}

func TestGetSharedLookupOutlivesCanceledCaller(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	slow := mock.NewMockLayer("L1")
	slow.GetFunc = func(ctx context.Context, key string) (string, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		select {
		case <-release:
			return "1", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	c, err := New(Options{}, slow)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Get(first, "k")
		firstErr <- err
	}()
	<-entered

	type result struct {
		v   string
		err error
	}
	second := make(chan result, 1)
	go func() {
		v, err := c.Get(context.Background(), "k")
		second <- result{v, err}
	}()
	time.Sleep(10 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("first Get = %v, want canceled", err)
	}

	close(release)
	if r := <-second; r.err != nil || r.v != "1" {
		t.Errorf("second Get = %q, %v, want 1", r.v, r.err)
	}
}

func TestGetCanceledContext(t *testing.T) {
	c, err := New(Options{}, newMemory("L1"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get = %v, want canceled", err)
	}
}

func TestSetUsesLayerTTL(t *testing.T) {
	var mu sync.Mutex
	ttls := map[string]time.Duration{}
	record := func(name string) *mock.MockLayer {
		l := mock.NewMockLayer(name)
		l.SetFunc = func(ctx context.Context, key, value string, ttl time.Duration) error {
			mu.Lock()
			ttls[name] = ttl
			mu.Unlock()
			return nil
		}
		return l
	}

	c, err := New(Options{TTL: DecayingTTL{Factor: 0.5}}, record("L1"), record("L2"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Set(context.Background(), "k", "v", time.Hour); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if ttls["L1"] != 30*time.Minute || ttls["L2"] != time.Hour {
		t.Errorf("ttls = %v", ttls)
	}
}

func TestSetAndDeleteAttemptAllLayers(t *testing.T) {
	boom := errors.New("down")
	l1 := mock.NewFailingLayer("L1", boom)
	l2 := mock.NewMockLayer("L2")

	c, err := New(Options{}, l1, l2)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Set(context.Background(), "k", "v", 0); !errors.Is(err, boom) {
		t.Errorf("Set = %v, want %v", err, boom)
	}
	if err := c.Delete(context.Background(), "k"); !errors.Is(err, boom) {
		t.Errorf("Delete = %v, want %v", err, boom)
	}
	if l2.SetCalls() != 1 || l2.DeleteCalls() != 1 {
		t.Errorf("L2 set/delete calls = %d/%d, want 1/1", l2.SetCalls(), l2.DeleteCalls())
	}
}

func TestCloseClosesLayers(t *testing.T) {
	l1, l2 := mock.NewMockLayer("L1"), mock.NewMockLayer("L2")
	c, err := New(Options{}, l1, l2)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if l1.CloseCalls() != 1 || l2.CloseCalls() != 1 {
		t.Errorf("close calls = %d/%d, want 1/1", l1.CloseCalls(), l2.CloseCalls())
	}
}
