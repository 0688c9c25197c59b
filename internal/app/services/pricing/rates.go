package pricing

import (
	"fmt"
	"sync"
	"time"

	"github.com/xeriaco/sourcing_engine/internal/app/metrics"
)

// DefaultUSDToAUD is the fallback rate applied until the first successful
// fetch.
const DefaultUSDToAUD = 1.55

// RateStore holds the exchange rate currently applied to pricing. Updates
// outside the (1, 3) sanity band are rejected and the prior rate survives.
type RateStore struct {
	mu        sync.RWMutex
	rate      float64
	source    string
	updatedAt time.Time
}

// NewRateStore creates a store seeded with the given rate, or the default
// when the seed is out of band.
func NewRateStore(initial float64) *RateStore {
	if initial <= 1 || initial >= 3 {
		initial = DefaultUSDToAUD
	}
	metrics.SetExchangeRate(initial)
	return &RateStore{rate: initial, source: "default"}
}

// Rate returns the rate currently applied.
func (s *RateStore) Rate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate
}

// Source returns the origin of the current rate and when it was set.
func (s *RateStore) Source() (string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source, s.updatedAt
}

// Update applies a fetched rate. A value at or outside the sanity band is
// rejected with an error and the current rate is kept.
func (s *RateStore) Update(rate float64, source string) error {
	if rate <= 1 || rate >= 3 {
		return fmt.Errorf("rate %.4f outside sanity band (1, 3)", rate)
	}

	s.mu.Lock()
	s.rate = rate
	s.source = source
	s.updatedAt = time.Now().UTC()
	s.mu.Unlock()

	metrics.SetExchangeRate(rate)
	return nil
}
