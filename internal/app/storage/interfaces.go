package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xeriaco/sourcing_engine/internal/app/domain/analytics"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/order"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
)

// ErrNotFound is returned by Get operations when no record matches.
var ErrNotFound = errors.New("storage: not found")

// RunStore persists pipeline run records.
type RunStore interface {
	CreateRun(ctx context.Context, run pipeline.Run) (pipeline.Run, error)
	UpdateRun(ctx context.Context, run pipeline.Run) (pipeline.Run, error)
	GetRun(ctx context.Context, id string) (pipeline.Run, error)
	ListRuns(ctx context.Context, limit int) ([]pipeline.Run, error)
	// FindActiveRun returns the run currently holding the single-flight
	// slot, or ErrNotFound when none is queued or running.
	FindActiveRun(ctx context.Context) (pipeline.Run, error)
}

// ProductStore persists catalog records.
type ProductStore interface {
	CreateProduct(ctx context.Context, p product.Product) (product.Product, error)
	UpdateProduct(ctx context.Context, p product.Product) (product.Product, error)
	GetProduct(ctx context.Context, id string) (product.Product, error)
	// GetProductByExternalID resolves a catalog record from its storefront
	// listing id, for callers that only see the storefront side.
	GetProductByExternalID(ctx context.Context, externalID string) (product.Product, error)
	ListProducts(ctx context.Context) ([]product.Product, error)
	ListActiveProducts(ctx context.Context) ([]product.Product, error)
	ListUnenrichedProducts(ctx context.Context, limit int) ([]product.Product, error)
	ListLowStockProducts(ctx context.Context) ([]product.Product, error)
}

// OrderStore persists mirrored storefront orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, o order.Order) (order.Order, error)
	UpdateOrder(ctx context.Context, o order.Order) (order.Order, error)
	GetOrder(ctx context.Context, id string) (order.Order, error)
	ListOrders(ctx context.Context) ([]order.Order, error)
	ListOrdersByStatus(ctx context.Context, status order.Status) ([]order.Order, error)
	ListOrdersSince(ctx context.Context, since time.Time) ([]order.Order, error)
}

// AnalyticsStore persists daily snapshots. Snapshots are keyed by UTC day;
// writing the same day twice replaces the earlier snapshot.
type AnalyticsStore interface {
	UpsertSnapshot(ctx context.Context, snap analytics.Snapshot) (analytics.Snapshot, error)
	GetSnapshot(ctx context.Context, day time.Time) (analytics.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]analytics.Snapshot, error)
}
