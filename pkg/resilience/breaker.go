package resilience

import (
	"errors"

	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

func newBreaker(name string, cfg CircuitBreakerConfig, isSuccessful func(error) bool, mc metrics.MetricsCollector, logger *logging.Logger) *gobreaker.CircuitBreaker {
	if cfg.IsSuccessful != nil {
		isSuccessful = cfg.IsSuccessful
	}

	settings := gobreaker.Settings{
		Name:         name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: isSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			c := Counts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			}
			if cfg.ReadyToTrip != nil {
				return cfg.ReadyToTrip(c)
			}
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			mc.RecordCircuitState(name, circuitState(to))
		},
	}

	return gobreaker.NewCircuitBreaker(settings)
}

func circuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	default:
		return metrics.CircuitClosed
	}
}

func isRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
