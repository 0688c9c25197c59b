// Package pricing computes deterministic retail prices from landed cost,
// the current exchange rate and the configured markup tiers.
package pricing

import (
	"context"
	"sync"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/pricing"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
	"github.com/xeriaco/sourcing_engine/internal/app/metrics"
	"github.com/xeriaco/sourcing_engine/internal/app/storage"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

// Service prices candidates and keeps the live catalog aligned with the
// current configuration.
type Service struct {
	store storage.ProductStore
	rates *RateStore
	base  pricing.Config
	log   *logger.Logger

	mu        sync.Mutex
	publisher connector.Publisher
}

// New constructs a pricing service. The rate carried by base is ignored;
// the rate store is the single source of truth for conversion.
func New(store storage.ProductStore, rates *RateStore, base pricing.Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pricing")
	}
	if rates == nil {
		rates = NewRateStore(DefaultUSDToAUD)
	}
	if len(base.MarkupTiers) == 0 {
		base.MarkupTiers = pricing.DefaultMarkupTiers()
	}
	if len(base.PsychologicalEndings) == 0 {
		base.PsychologicalEndings = pricing.DefaultEndings()
	}
	return &Service{
		store: store,
		rates: rates,
		base:  base,
		log:   log,
	}
}

// WithPublisher assigns the storefront used when repricing live listings.
func (s *Service) WithPublisher(p connector.Publisher) {
	s.mu.Lock()
	s.publisher = p
	s.mu.Unlock()
}

// ConfigSnapshot returns the immutable configuration a single calculation
// reads, with the current exchange rate folded in.
func (s *Service) ConfigSnapshot() pricing.Config {
	cfg := s.base
	cfg.MarkupTiers = append([]pricing.MarkupTier(nil), s.base.MarkupTiers...)
	cfg.PsychologicalEndings = append([]float64(nil), s.base.PsychologicalEndings...)
	cfg.USDToAUDRate = s.rates.Rate()
	return cfg
}

// UpdateRate applies a fetched exchange rate, subject to the sanity band.
func (s *Service) UpdateRate(rate float64, source string) error {
	return s.rates.Update(rate, source)
}

// PriceCandidate computes the retail breakdown for a sourcing candidate.
func (s *Service) PriceCandidate(c product.Candidate) (pricing.Quote, error) {
	quote, err := Compute(s.ConfigSnapshot(), c.CostUSD, c.ShippingUSD)
	if err != nil {
		return pricing.Quote{}, err
	}
	metrics.RecordQuote()
	return quote, nil
}

// Apply copies a quote's breakdown onto a product record.
func Apply(p *product.Product, q pricing.Quote) {
	p.CostUSD = q.CostUSD
	p.ShippingUSD = q.ShippingUSD
	p.SellPriceAUD = q.SellPriceAUD
	p.CompareAtAUD = q.CompareAtAUD
	p.ProfitAUD = q.ProfitAUD
	p.ProfitMarginPercent = q.ProfitMarginPercent
	p.MarkupPercent = q.MarkupPercent
	p.FreeShipping = q.FreeShipping
}

// RepriceAll recomputes every active product against the current snapshot
// and pushes changed prices to the storefront. It returns the number of
// prices adjusted; per-item failures are logged and skipped.
func (s *Service) RepriceAll(ctx context.Context) (int, error) {
	cfg := s.ConfigSnapshot()

	products, err := s.store.ListActiveProducts(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	publisher := s.publisher
	s.mu.Unlock()

	adjusted := 0
	for _, p := range products {
		quote, err := Compute(cfg, p.CostUSD, p.ShippingUSD)
		if err != nil {
			s.log.WithError(err).WithField("product_id", p.ID).Warn("reprice failed")
			continue
		}
		if quote.SellPriceAUD == p.SellPriceAUD {
			continue
		}
		Apply(&p, quote)
		if _, err := s.store.UpdateProduct(ctx, p); err != nil {
			s.log.WithError(err).WithField("product_id", p.ID).Warn("persist reprice failed")
			continue
		}
		if publisher != nil && p.ExternalID != "" {
			if err := publisher.UpdatePrice(ctx, p.ExternalID, p.SellPriceAUD, p.CompareAtAUD); err != nil {
				s.log.WithError(err).WithField("product_id", p.ID).Warn("storefront price update failed")
			}
		}
		adjusted++
	}
	return adjusted, nil
}

// AdjustForCompetitors undercuts observed market prices where the profit
// floor allows it. It returns the number of prices adjusted.
func (s *Service) AdjustForCompetitors(ctx context.Context, observed []connector.CompetitorPrice) (int, error) {
	cfg := s.ConfigSnapshot()

	s.mu.Lock()
	publisher := s.publisher
	s.mu.Unlock()

	adjusted := 0
	for _, obs := range observed {
		p, err := s.store.GetProduct(ctx, obs.ProductID)
		if err != nil {
			s.log.WithError(err).WithField("product_id", obs.ProductID).Warn("competitor adjust: product lookup failed")
			continue
		}
		if !p.Active || obs.PriceAUD <= 0 || obs.PriceAUD >= p.SellPriceAUD {
			continue
		}

		target := endingAtOrBelow(obs.PriceAUD*0.95, cfg.PsychologicalEndings)
		floor := round2((p.CostUSD+p.ShippingUSD)*cfg.USDToAUDRate + cfg.MinProfitAUD)
		if target < floor {
			s.log.WithField("product_id", p.ID).
				WithField("competitor_aud", obs.PriceAUD).
				Debug("competitor price below profit floor; holding price")
			continue
		}

		landedAUD := round2((p.CostUSD + p.ShippingUSD) * cfg.USDToAUDRate)
		p.SellPriceAUD = target
		p.CompareAtAUD = compareAt(target)
		p.ProfitAUD = round2(target - landedAUD)
		p.ProfitMarginPercent = round2(p.ProfitAUD / target * 100)
		p.FreeShipping = target >= cfg.FreeShippingThresholdAUD

		if _, err := s.store.UpdateProduct(ctx, p); err != nil {
			s.log.WithError(err).WithField("product_id", p.ID).Warn("persist competitor adjust failed")
			continue
		}
		if publisher != nil && p.ExternalID != "" {
			if err := publisher.UpdatePrice(ctx, p.ExternalID, p.SellPriceAUD, p.CompareAtAUD); err != nil {
				s.log.WithError(err).WithField("product_id", p.ID).Warn("storefront price update failed")
			}
		}
		adjusted++
	}
	return adjusted, nil
}
