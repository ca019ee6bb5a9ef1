package resilience

import (
	"context"
	"errors"
	"time"

	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientLayer wraps a CacheLayer with a circuit breaker and a per-call
// timeout. Misses do not count as failures.
type ResilientLayer struct {
	layer   cache.CacheLayer
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

var _ cache.CacheLayer = (*ResilientLayer)(nil)

// NewResilientLayer wraps layer without metrics.
func NewResilientLayer(layer cache.CacheLayer, config ResilientConfig) *ResilientLayer {
	return NewResilientLayerWithMetrics(layer, config, metrics.NoOpCollector{})
}

// NewResilientLayerWithMetrics wraps layer and reports lookups, writes and
// breaker state to mc.
func NewResilientLayerWithMetrics(layer cache.CacheLayer, config ResilientConfig, mc metrics.MetricsCollector) *ResilientLayer {
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	logger := logging.L().Named("resilience").Named(layer.Name())

	logger.Debug("resilient layer initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	return &ResilientLayer{
		layer:   layer,
		cb:      newBreaker(layer.Name(), config.CircuitBreakerConfig, cacheSuccess, mc, logger),
		timeout: config.Timeout,
		metrics: mc,
		logger:  logger,
	}
}

func cacheSuccess(err error) bool {
	return err == nil || cache.IsNotFound(err)
}

// Name returns the name of the underlying cache layer.
func (rl *ResilientLayer) Name() string {
	return rl.layer.Name()
}

// Get reads key from the wrapped layer.
func (rl *ResilientLayer) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	ctx, cancel := rl.withTimeout(ctx)
	defer cancel()

	result, err := rl.cb.Execute(func() (interface{}, error) {
		return rl.layer.Get(ctx, key)
	})
	rl.metrics.RecordLookup(rl.layer.Name(), err == nil, time.Since(start))

	if err != nil {
		return "", rl.translate(ctx, "get", err)
	}
	return result.(string), nil
}

// Set writes key to the wrapped layer.
func (rl *ResilientLayer) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	start := time.Now()
	ctx, cancel := rl.withTimeout(ctx)
	defer cancel()

	_, err := rl.cb.Execute(func() (interface{}, error) {
		return nil, rl.layer.Set(ctx, key, value, ttl)
	})
	rl.metrics.RecordCacheWrite(rl.layer.Name(), err == nil, time.Since(start))

	if err != nil {
		return rl.translate(ctx, "set", err)
	}
	return nil
}

// Delete removes key from the wrapped layer.
func (rl *ResilientLayer) Delete(ctx context.Context, key string) error {
	ctx, cancel := rl.withTimeout(ctx)
	defer cancel()

	_, err := rl.cb.Execute(func() (interface{}, error) {
		return nil, rl.layer.Delete(ctx, key)
	})
	if err != nil {
		return rl.translate(ctx, "delete", err)
	}
	return nil
}

// Close closes the underlying cache layer.
func (rl *ResilientLayer) Close() error {
	return rl.layer.Close()
}

// State returns the current breaker state.
func (rl *ResilientLayer) State() metrics.CircuitState {
	return circuitState(rl.cb.State())
}

func (rl *ResilientLayer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if rl.timeout > 0 {
		return context.WithTimeout(ctx, rl.timeout)
	}
	return ctx, func() {}
}

func (rl *ResilientLayer) translate(ctx context.Context, op string, err error) error {
	switch {
	case cache.IsNotFound(err):
		return err
	case isRejected(err):
		rl.logger.Debug("circuit breaker open, request rejected", zap.String("operation", op))
		return cache.ErrCircuitOpen
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		rl.logger.Warn("operation timeout",
			zap.String("operation", op),
			zap.Duration("timeout", rl.timeout),
		)
		return cache.ErrTimeout
	}
	rl.logger.Error("cache operation failed",
		zap.String("operation", op),
		zap.String("error_type", cache.ClassifyError(err)),
		zap.Error(err),
	)
	return cache.WrapError(err, rl.layer.Name(), op)
}
