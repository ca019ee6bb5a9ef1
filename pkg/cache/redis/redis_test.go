package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"bank-ledger/pkg/cache"

	"github.com/google/uuid"
)

func setupTestRedis(t *testing.T) *RedisCache {
	t.Helper()
	config := DefaultRedisCacheConfig()
	config.Name = "TestRedis"
	config.KeyPrefix = "test:ledger:" + uuid.NewString() + ":"
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Addr = addr
	}
	config.DialTimeout = 2 * time.Second

	r, err := NewRedisCache(config)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestNewRedisCacheNoAddress(t *testing.T) {
	config := DefaultRedisCacheConfig()
	config.Addr = ""
	if _, err := NewRedisCache(config); err == nil {
		t.Error("expected error without any address")
	}
}

func TestConfigModes(t *testing.T) {
	cl := ClusterCacheConfig("c", []string{"a:1", "b:2"}, "pw")
	addrs, err := cl.initAddress()
	if err != nil || len(addrs) != 2 {
		t.Errorf("cluster initAddress() = %v, %v", addrs, err)
	}

	se := SentinelCacheConfig("s", []string{"s:26379"}, "master", "")
	addrs, err = se.initAddress()
	if err != nil || len(addrs) != 1 || addrs[0] != "s:26379" {
		t.Errorf("sentinel initAddress() = %v, %v", addrs, err)
	}
}

func TestRedisCache_GetSetDelete(t *testing.T) {
	r := setupTestRedis(t)
	ctx := context.Background()

	if _, err := r.Get(ctx, "missing"); !cache.IsNotFound(err) {
		t.Errorf("Get(missing) error = %v, want miss", err)
	}

	if err := r.Set(ctx, "account:number:A", "17", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v, err := r.Get(ctx, "account:number:A")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "17" {
		t.Errorf("Get() = %q, want %q", v, "17")
	}

	ttl, err := r.TTL(ctx, "account:number:A")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL() = %v, want (0, 1m]", ttl)
	}

	if err := r.Delete(ctx, "account:number:A"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := r.Get(ctx, "account:number:A"); !cache.IsNotFound(err) {
		t.Errorf("Get after Delete error = %v, want miss", err)
	}
}

func TestUnavailableIsTemporary(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := unavailable("get", cause)

	if !errors.Is(err, cache.ErrLayerUnavailable) {
		t.Errorf("expected ErrLayerUnavailable in %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause in %v", err)
	}
	var temp interface{ Temporary() bool }
	if !errors.As(err, &temp) || !temp.Temporary() {
		t.Error("expected a temporary error")
	}
}
