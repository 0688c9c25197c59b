// Package pricing holds the immutable configuration snapshot and result
// types for sell-price computation.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidInput signals bad pricing arguments. It is a programmer error
// and is never silently swallowed.
var ErrInvalidInput = errors.New("pricing: invalid input")

// MarkupTier maps a landed-cost range to a markup percentage. Tiers are
// ordered ascending by MaxCostUSD; the last tier is unbounded (+Inf).
type MarkupTier struct {
	MaxCostUSD    float64 `yaml:"max_cost_usd"`
	MarkupPercent float64 `yaml:"markup_percent"`
}

// Config is the immutable snapshot a single calculation reads. It combines
// static business rules with the exchange rate current at snapshot time.
type Config struct {
	MarkupTiers              []MarkupTier
	MinProfitAUD             float64
	USDToAUDRate             float64
	PsychologicalEndings     []float64
	FreeShippingThresholdAUD float64
}

// Validate checks structural invariants: tiers ascending and partitioning
// [0, +Inf), rate within the sanity band, at least one ending.
func (c Config) Validate() error {
	if len(c.MarkupTiers) == 0 {
		return fmt.Errorf("%w: no markup tiers", ErrInvalidInput)
	}
	if !sort.SliceIsSorted(c.MarkupTiers, func(i, j int) bool {
		return c.MarkupTiers[i].MaxCostUSD < c.MarkupTiers[j].MaxCostUSD
	}) {
		return fmt.Errorf("%w: markup tiers not ascending", ErrInvalidInput)
	}
	if last := c.MarkupTiers[len(c.MarkupTiers)-1]; !math.IsInf(last.MaxCostUSD, 1) {
		return fmt.Errorf("%w: last markup tier must be unbounded", ErrInvalidInput)
	}
	if c.USDToAUDRate <= 1 || c.USDToAUDRate >= 3 {
		return fmt.Errorf("%w: usd/aud rate %.4f outside (1,3)", ErrInvalidInput, c.USDToAUDRate)
	}
	if len(c.PsychologicalEndings) == 0 {
		return fmt.Errorf("%w: no psychological endings", ErrInvalidInput)
	}
	for _, e := range c.PsychologicalEndings {
		if e < 0 || e >= 1 {
			return fmt.Errorf("%w: ending %.2f outside [0,1)", ErrInvalidInput, e)
		}
	}
	return nil
}

// Quote is the full pricing breakdown for one landed cost.
type Quote struct {
	CostUSD             float64 `json:"cost_usd"`
	ShippingUSD         float64 `json:"shipping_usd"`
	LandedCostAUD       float64 `json:"landed_cost_aud"`
	SellPriceAUD        float64 `json:"sell_price_aud"`
	CompareAtAUD        float64 `json:"compare_at_aud"`
	ProfitAUD           float64 `json:"profit_aud"`
	ProfitMarginPercent float64 `json:"profit_margin_percent"`
	MarkupPercent       float64 `json:"markup_percent"`
	FreeShipping        bool    `json:"free_shipping"`
}

// DefaultMarkupTiers is the standard tier table: cheaper items carry
// higher markup.
func DefaultMarkupTiers() []MarkupTier {
	return []MarkupTier{
		{MaxCostUSD: 5, MarkupPercent: 120},
		{MaxCostUSD: 15, MarkupPercent: 80},
		{MaxCostUSD: 30, MarkupPercent: 60},
		{MaxCostUSD: 60, MarkupPercent: 45},
		{MaxCostUSD: math.Inf(1), MarkupPercent: 35},
	}
}

// DefaultEndings are the standard psychological price endings.
func DefaultEndings() []float64 {
	return []float64{0.95, 0.99}
}
