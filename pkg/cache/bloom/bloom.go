// Package bloom keeps a probabilistic set of issued account numbers so the
// number generator can skip likely collisions without a store round trip.
package bloom

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Filter is a concurrency-safe bloom filter over account numbers. It never
// reports false negatives for numbers it was given.
type Filter struct {
	filter *bloom.BloomFilter
	mu     sync.RWMutex

	expectedItems     uint
	falsePositiveRate float64

	totalQueries uint64
	hits         uint64
	added        uint64
}

// NewFilter sizes a filter for expectedItems at the given false positive rate.
func NewFilter(expectedItems uint, falsePositiveRate float64) *Filter {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	return &Filter{
		filter:            bloom.NewWithEstimates(expectedItems, falsePositiveRate),
		expectedItems:     expectedItems,
		falsePositiveRate: falsePositiveRate,
	}
}

// MayContain reports whether number may have been added.
func (f *Filter) MayContain(number string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.totalQueries++
	if f.filter.TestString(number) {
		f.hits++
		return true
	}
	return false
}

// Add records number.
func (f *Filter) Add(number string) {
	f.mu.Lock()
	f.filter.AddString(number)
	f.added++
	f.mu.Unlock()
}

// Preload adds every number, typically all numbers already in the store.
func (f *Filter) Preload(numbers []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, n := range numbers {
		f.filter.AddString(n)
	}
	f.added += uint64(len(numbers))
}

// Reset clears the filter and its counters.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.filter = bloom.NewWithEstimates(f.expectedItems, f.falsePositiveRate)
	f.totalQueries = 0
	f.hits = 0
	f.added = 0
}

// Stats returns statistics about the filter.
func (f *Filter) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	hitRate := 0.0
	if f.totalQueries > 0 {
		hitRate = float64(f.hits) / float64(f.totalQueries)
	}

	return Stats{
		TotalQueries:   f.totalQueries,
		Hits:           f.hits,
		Added:          f.added,
		HitRate:        hitRate,
		FilterCapacity: f.filter.Cap(),
		EstimatedItems: uint(f.filter.ApproximatedSize()),
	}
}

// Stats holds statistics about bloom filter usage.
type Stats struct {
	TotalQueries   uint64
	Hits           uint64
	Added          uint64
	HitRate        float64
	FilterCapacity uint
	EstimatedItems uint
}
