package cache

import (
	"errors"
	"fmt"
	"strings"
)

// Error is a cache error. Temporary errors say the layer may recover and
// callers should fall through to the next source.
type Error struct {
	msg       string
	temporary bool
}

func (e *Error) Error() string   { return "cache: " + e.msg }
func (e *Error) Temporary() bool { return e.temporary }

var (
	// ErrKeyNotFound is returned when a requested key does not exist in the cache
	ErrKeyNotFound = &Error{msg: "key not found"}

	// ErrCacheMiss is an alias for ErrKeyNotFound
	ErrCacheMiss = ErrKeyNotFound

	// ErrInvalidKey is returned for empty, overlong or malformed keys
	ErrInvalidKey = &Error{msg: "invalid key"}

	// ErrLayerUnavailable is returned when a cache layer is temporarily unavailable
	ErrLayerUnavailable = &Error{msg: "layer unavailable", temporary: true}

	// ErrTimeout is returned when a cache operation times out
	ErrTimeout = &Error{msg: "operation timeout", temporary: true}

	// ErrCircuitOpen is returned while the circuit breaker rejects calls
	ErrCircuitOpen = &Error{msg: "circuit breaker open", temporary: true}
)

// IsNotFound reports whether err is a cache miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsTimeout reports whether err is a cache timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCircuitOpen reports whether err came from an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// ClassifyError returns a string classification of the error type for metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrLayerUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, "connection", "connect", "dial"):
		return "connection"
	case containsAny(errStr, "redis"):
		return "backend"
	default:
		return "other"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// WrapError adds the layer and operation to err.
func WrapError(err error, layer string, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cache layer %s %s: %w", layer, operation, err)
}
