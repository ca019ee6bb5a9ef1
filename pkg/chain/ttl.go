package chain

import (
	"math"
	"time"
)

// TTLStrategy picks the lifetime of an index entry in each layer.
type TTLStrategy interface {
	TTL(layerIndex, layerCount int, base time.Duration) time.Duration
}

// UniformTTL gives every layer the base TTL.
type UniformTTL struct{}

func (UniformTTL) TTL(_, _ int, base time.Duration) time.Duration {
	return base
}

// DecayingTTL shortens the TTL of faster layers. With Factor 0.5 and three
// layers, L1 keeps entries for base/4, L2 for base/2 and L3 for base.
type DecayingTTL struct {
	Factor float64
}

func (s DecayingTTL) TTL(layerIndex, layerCount int, base time.Duration) time.Duration {
	if s.Factor <= 0 || s.Factor >= 1 || layerIndex >= layerCount {
		return base
	}
	exponent := float64(layerCount - layerIndex - 1)
	return time.Duration(float64(base) * math.Pow(s.Factor, exponent))
}

// FixedTTL uses an explicit TTL per layer and falls back to base.
type FixedTTL []time.Duration

func (s FixedTTL) TTL(layerIndex, _ int, base time.Duration) time.Duration {
	if layerIndex < len(s) && s[layerIndex] > 0 {
		return s[layerIndex]
	}
	return base
}
