// Package memory is the in-process L1 layer of the account number index.
package memory

import (
	"context"
	"sync"
	"time"

	"bank-ledger/pkg/cache"
)

// MemoryCache is a thread-safe map with TTL expiry and LRU eviction once
// MaxSize is reached.
type MemoryCache struct {
	data   map[string]*entry
	mu     sync.RWMutex
	config MemoryCacheConfig

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

type entry struct {
	value      string
	expiresAt  time.Time
	accessedAt time.Time
}

// MemoryCacheConfig holds configuration for the memory cache
type MemoryCacheConfig struct {
	// Name is the cache layer identifier
	Name string

	// MaxSize is the maximum number of entries (0 = unlimited)
	MaxSize int

	// DefaultTTL is used when Set is called with a zero ttl
	DefaultTTL time.Duration

	// CleanupInterval is how often expired entries are swept
	CleanupInterval time.Duration
}

// NewMemoryCache creates a memory cache and starts its cleanup goroutine.
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = time.Hour
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	c := &MemoryCache{
		data:          make(map[string]*entry),
		config:        config,
		stopCleanup:   make(chan struct{}),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
	}

	c.wg.Add(1)
	go c.cleanup()

	return c
}

var _ cache.CacheLayer = (*MemoryCache)(nil)

// Get returns the value for key or cache.ErrKeyNotFound.
func (c *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	if err := cache.ValidateKey(key); err != nil {
		return "", err
	}

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return "", cache.ErrKeyNotFound
	}
	if now.After(e.expiresAt) {
		delete(c.data, key)
		return "", cache.ErrKeyNotFound
	}

	e.accessedAt = now
	return e.value, nil
}

// Set stores value under key. A zero ttl uses DefaultTTL.
func (c *MemoryCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && c.config.MaxSize > 0 && len(c.data) >= c.config.MaxSize {
		c.evictLRU()
	}

	c.data[key] = &entry{
		value:      value,
		expiresAt:  now.Add(ttl),
		accessedAt: now,
	}
	return nil
}

// evictLRU expects c.mu held.
func (c *MemoryCache) evictLRU() {
	var (
		lruKey  string
		lruTime time.Time
	)
	for k, e := range c.data {
		if lruKey == "" || e.accessedAt.Before(lruTime) {
			lruKey = k
			lruTime = e.accessedAt
		}
	}
	if lruKey != "" {
		delete(c.data, lruKey)
	}
}

// Delete removes key. Missing keys are ignored.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := cache.ValidateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()

	return nil
}

// Name returns the cache layer name.
func (c *MemoryCache) Name() string {
	return c.config.Name
}

// Close stops the cleanup goroutine and drops all entries.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		c.cleanupTicker.Stop()
		close(c.stopCleanup)
		c.wg.Wait()

		c.mu.Lock()
		c.data = make(map[string]*entry)
		c.mu.Unlock()
	})
	return nil
}

func (c *MemoryCache) cleanup() {
	defer c.wg.Done()

	for {
		select {
		case <-c.cleanupTicker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, key)
		}
	}
}

// Stats returns current cache statistics.
func (c *MemoryCache) Stats() MemoryCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return MemoryCacheStats{
		Size:    len(c.data),
		MaxSize: c.config.MaxSize,
	}
}

// MemoryCacheStats holds cache statistics.
type MemoryCacheStats struct {
	Size    int // Current number of entries
	MaxSize int // Maximum allowed entries (0 = unlimited)
}
