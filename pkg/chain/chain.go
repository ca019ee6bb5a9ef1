// Package chain stacks index cache layers from fastest to slowest. Reads fall
// through the layers and warm the ones above a hit in the background.
package chain

import (
	"context"
	"errors"
	"strings"
	"time"

	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/metrics"
	"bank-ledger/pkg/resilience"
	"bank-ledger/pkg/writer"

	"golang.org/x/sync/singleflight"
)

// Options configures a Chain.
type Options struct {
	Metrics metrics.MetricsCollector
	// TTL defaults to UniformTTL.
	TTL TTLStrategy
	// DefaultTTL applies to warm-up writes and to Set with a zero ttl.
	DefaultTTL time.Duration
	// Writer configures the per-layer warm-up writers.
	Writer writer.AsyncWriterConfig
}

// Chain manages multiple cache layers with fallback and warm-up.
type Chain struct {
	layers  []cache.CacheLayer
	writers []*writer.AsyncWriter
	sf      singleflight.Group
	ttl     TTLStrategy
	baseTTL time.Duration
}

// New wraps every layer in a resilient layer and builds the chain. The first
// layer gets a short call timeout; the rest get a second.
func New(opts Options, layers ...cache.CacheLayer) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOpCollector{}
	}
	if opts.TTL == nil {
		opts.TTL = UniformTTL{}
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = time.Hour
	}

	c := &Chain{
		layers:  make([]cache.CacheLayer, len(layers)),
		writers: make([]*writer.AsyncWriter, len(layers)),
		ttl:     opts.TTL,
		baseTTL: opts.DefaultTTL,
	}
	for i, layer := range layers {
		config := resilience.DefaultResilientConfig().WithTimeout(time.Second)
		if i == 0 {
			config = config.WithTimeout(100 * time.Millisecond)
		}
		c.layers[i] = resilience.NewResilientLayerWithMetrics(layer, config, opts.Metrics)
		c.writers[i] = writer.NewAsyncWriterWithMetrics(c.layers[i], opts.Writer, warmupMetrics{opts.Metrics})
	}
	return c, nil
}

// warmupMetrics leaves write accounting to the resilient layer underneath.
type warmupMetrics struct {
	metrics.MetricsCollector
}

func (warmupMetrics) RecordCacheWrite(string, bool, time.Duration) {}

// Get returns the value of key from the first layer that has it. Concurrent
// Gets for the same key share one traversal. The shared traversal is
// detached from any single caller's cancellation; each caller stops
// waiting when its own ctx ends.
func (c *Chain) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	shared := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(key, func() (interface{}, error) {
		return c.getWithFallback(shared, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Chain) getWithFallback(ctx context.Context, key string) (string, error) {
	var lastErr error

	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		value, err := layer.Get(ctx, key)
		if err != nil {
			// a broken layer is skipped like a miss
			lastErr = err
			continue
		}

		c.warm(ctx, key, value, i)
		return value, nil
	}

	if lastErr != nil && !cache.IsNotFound(lastErr) {
		return "", lastErr
	}
	return "", cache.ErrKeyNotFound
}

// warm queues writes of a hit at layer hit into every faster layer.
func (c *Chain) warm(ctx context.Context, key, value string, hit int) {
	for i := hit - 1; i >= 0; i-- {
		// dropped warm-ups are counted by the writer
		_ = c.writers[i].Write(ctx, key, value, c.layerTTL(i, 0))
	}
}

func (c *Chain) layerTTL(i int, ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.baseTTL
	}
	return c.ttl.TTL(i, len(c.layers), ttl)
}

// Set writes value to every layer. All layers are attempted; the last error
// is returned.
func (c *Chain) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	var lastErr error
	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := layer.Set(ctx, key, value, c.layerTTL(i, ttl)); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Delete removes key from every layer.
func (c *Chain) Delete(ctx context.Context, key string) error {
	var lastErr error
	for _, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := layer.Delete(ctx, key); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Flush waits for queued warm-up writes.
func (c *Chain) Flush(timeout time.Duration) error {
	for _, w := range c.writers {
		if err := w.Flush(timeout); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the writers and then closes the layers.
func (c *Chain) Close() error {
	var lastErr error
	for _, w := range c.writers {
		if err := w.Close(); err != nil {
			lastErr = err
		}
	}
	for _, layer := range c.layers {
		if err := layer.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Layers returns the wrapped layers.
func (c *Chain) Layers() []cache.CacheLayer {
	return append([]cache.CacheLayer(nil), c.layers...)
}

func (c *Chain) Len() int {
	return len(c.layers)
}

func (c *Chain) String() string {
	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return "chain(" + strings.Join(names, " -> ") + ")"
}
