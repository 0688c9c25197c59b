// Package connector defines the interfaces the pipeline uses to talk to
// upstream systems. Implementations live under internal/app/connectors;
// services depend only on these interfaces so tests can substitute fakes.
package connector

import (
	"context"

	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
)

// SourceQuery narrows a sourcing call to a category and result budget.
type SourceQuery struct {
	Category    string
	MaxProducts int
	MinRating   float64
	MinOrders   int
}

// Sourcer discovers product candidates on a supplier marketplace.
type Sourcer interface {
	Source(ctx context.Context, query SourceQuery) ([]product.Candidate, error)
}

// SourcerFunc adapts a function to the Sourcer interface.
type SourcerFunc func(ctx context.Context, query SourceQuery) ([]product.Candidate, error)

func (f SourcerFunc) Source(ctx context.Context, query SourceQuery) ([]product.Candidate, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx, query)
}

// Enricher generates listing copy for a product.
type Enricher interface {
	Enrich(ctx context.Context, p product.Product) (product.EnrichedContent, error)
}

// EnricherFunc adapts a function to the Enricher interface.
type EnricherFunc func(ctx context.Context, p product.Product) (product.EnrichedContent, error)

func (f EnricherFunc) Enrich(ctx context.Context, p product.Product) (product.EnrichedContent, error) {
	if f == nil {
		return product.EnrichedContent{}, nil
	}
	return f(ctx, p)
}

// Publisher creates and maintains storefront listings. Publish returns the
// storefront's listing identifier.
type Publisher interface {
	Publish(ctx context.Context, p product.Product) (string, error)
	UpdatePrice(ctx context.Context, externalID string, priceAUD, compareAtAUD float64) error
}

// CompetitorPrice is one observed market price for a product.
type CompetitorPrice struct {
	ProductID string
	PriceAUD  float64
	Seller    string
}

// CompetitorScanner samples market prices for the active catalog.
type CompetitorScanner interface {
	Scan(ctx context.Context, products []product.Product) ([]CompetitorPrice, error)
}

// CompetitorScannerFunc adapts a function to the CompetitorScanner interface.
type CompetitorScannerFunc func(ctx context.Context, products []product.Product) ([]CompetitorPrice, error)

func (f CompetitorScannerFunc) Scan(ctx context.Context, products []product.Product) ([]CompetitorPrice, error) {
	if f == nil {
		return nil, nil
	}
	return f(ctx, products)
}

// CatalogSyncer mirrors the catalog into an external operations base.
type CatalogSyncer interface {
	Sync(ctx context.Context, products []product.Product) (int, error)
}

// CatalogSyncerFunc adapts a function to the CatalogSyncer interface.
type CatalogSyncerFunc func(ctx context.Context, products []product.Product) (int, error)

func (f CatalogSyncerFunc) Sync(ctx context.Context, products []product.Product) (int, error) {
	if f == nil {
		return 0, nil
	}
	return f(ctx, products)
}

// Alert is an operational notification delivered to a sink.
type Alert struct {
	Severity string
	Title    string
	Message  string
	Fields   map[string]string
}

// AlertSink delivers operational alerts.
type AlertSink interface {
	Notify(ctx context.Context, alert Alert) error
}

// AlertSinkFunc adapts a function to the AlertSink interface.
type AlertSinkFunc func(ctx context.Context, alert Alert) error

func (f AlertSinkFunc) Notify(ctx context.Context, alert Alert) error {
	if f == nil {
		return nil
	}
	return f(ctx, alert)
}
