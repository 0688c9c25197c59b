package pricing

import (
	"fmt"
	"math"
	"sort"

	"github.com/xeriaco/sourcing_engine/internal/app/domain/pricing"
)

// Compute derives the full retail breakdown for one landed cost. The same
// config snapshot always yields the same quote.
//
// The sell price is the greater of the tiered markup value and the profit
// floor, lifted to the nearest psychological ending at or above it.
func Compute(cfg pricing.Config, costUSD, shippingUSD float64) (pricing.Quote, error) {
	if costUSD < 0 {
		return pricing.Quote{}, fmt.Errorf("%w: negative cost %.2f", pricing.ErrInvalidInput, costUSD)
	}
	if shippingUSD < 0 {
		return pricing.Quote{}, fmt.Errorf("%w: negative shipping %.2f", pricing.ErrInvalidInput, shippingUSD)
	}
	if err := cfg.Validate(); err != nil {
		return pricing.Quote{}, err
	}

	// Tier selection keys on the item cost alone; shipping still counts
	// toward the landed base the markup applies to.
	tier := cfg.MarkupTiers[len(cfg.MarkupTiers)-1]
	for _, t := range cfg.MarkupTiers {
		if costUSD <= t.MaxCostUSD {
			tier = t
			break
		}
	}

	landedUSD := costUSD + shippingUSD

	landedAUD := landedUSD * cfg.USDToAUDRate
	value := landedUSD * (1 + tier.MarkupPercent/100) * cfg.USDToAUDRate

	// Profit floor: never list below landed cost plus the minimum margin.
	if floor := landedAUD + cfg.MinProfitAUD; value < floor {
		value = floor
	}

	price := endingAtOrAbove(value, cfg.PsychologicalEndings)
	profit := round2(price - landedAUD)

	margin := 0.0
	if price > 0 {
		margin = round2(profit / price * 100)
	}

	return pricing.Quote{
		CostUSD:             costUSD,
		ShippingUSD:         shippingUSD,
		LandedCostAUD:       round2(landedAUD),
		SellPriceAUD:        price,
		CompareAtAUD:        compareAt(price),
		ProfitAUD:           profit,
		ProfitMarginPercent: margin,
		MarkupPercent:       tier.MarkupPercent,
		FreeShipping:        price >= cfg.FreeShippingThresholdAUD,
	}, nil
}

// compareAt inflates the sell price by 30% and rounds up to a clean
// anchor figure: whole dollars under 50 AUD, five-dollar steps under
// 200, ten-dollar steps above.
func compareAt(price float64) float64 {
	v := price * 1.30
	switch {
	case v < 50:
		return math.Ceil(v)
	case v < 200:
		return math.Ceil(v/5) * 5
	default:
		return math.Ceil(v/10) * 10
	}
}

// endingAtOrAbove lifts value to the smallest psychological price not below
// it. When every ending in the current integer band is too small, the search
// moves to the next band.
func endingAtOrAbove(value float64, endings []float64) float64 {
	sorted := append([]float64(nil), endings...)
	sort.Float64s(sorted)

	base := math.Floor(value)
	for _, e := range sorted {
		if candidate := base + e; candidate >= value-1e-9 {
			return round2(candidate)
		}
	}
	return round2(base + 1 + sorted[0])
}

// endingAtOrBelow drops value to the largest psychological price not above
// it. Used when undercutting an observed competitor price.
func endingAtOrBelow(value float64, endings []float64) float64 {
	sorted := append([]float64(nil), endings...)
	sort.Float64s(sorted)

	base := math.Floor(value)
	for i := len(sorted) - 1; i >= 0; i-- {
		if candidate := base + sorted[i]; candidate <= value+1e-9 {
			return round2(candidate)
		}
	}
	return round2(base - 1 + sorted[len(sorted)-1])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
