package resilience

import (
	"context"
	"time"

	"bank-ledger/pkg/ledger"
	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/metrics"

	"github.com/sony/gobreaker"
)

// ErrStoreUnavailable is returned while the store breaker is open. It is
// temporary: callers may retry later.
var ErrStoreUnavailable error = &unavailableError{}

type unavailableError struct{}

func (*unavailableError) Error() string   { return "resilience: store circuit breaker open" }
func (*unavailableError) Temporary() bool { return true }

// Guard runs ledger atomic units behind a circuit breaker. Business
// rejections and lock timeouts do not count as failures; only errors that
// point at the store itself do.
type Guard struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *logging.Logger
}

var _ ledger.Guard = (*Guard)(nil)

// NewGuard creates a store guard named name.
func NewGuard(name string, config ResilientConfig, mc metrics.MetricsCollector) *Guard {
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}
	logger := logging.L().Named("resilience").Named(name)

	return &Guard{
		cb:      newBreaker(name, config.CircuitBreakerConfig, ledger.IsHealthy, mc, logger),
		timeout: config.Timeout,
		logger:  logger,
	}
}

// Do runs fn unless the breaker is open.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if isRejected(err) {
		g.logger.Warn("store circuit breaker open, request rejected")
		return ErrStoreUnavailable
	}
	return err
}

// State returns the current breaker state.
func (g *Guard) State() metrics.CircuitState {
	return circuitState(g.cb.State())
}

// Healthy reports whether the breaker lets calls through.
func (g *Guard) Healthy() bool {
	return g.cb.State() != gobreaker.StateOpen
}
