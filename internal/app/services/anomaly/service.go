// Package anomaly watches the catalog and order book for conditions that
// need operator attention and pushes them to the alert sink.
package anomaly

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/order"
	"github.com/xeriaco/sourcing_engine/internal/app/storage"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

// DefaultStaleOrderAge is how long a pending order may sit before it is
// flagged.
const DefaultStaleOrderAge = 48 * time.Hour

// Service runs the periodic health checks.
type Service struct {
	products storage.ProductStore
	orders   storage.OrderStore
	alerts   connector.AlertSink
	log      *logger.Logger

	staleAge time.Duration
}

// New constructs the anomaly service.
func New(products storage.ProductStore, orders storage.OrderStore, alerts connector.AlertSink, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("anomaly")
	}
	return &Service{
		products: products,
		orders:   orders,
		alerts:   alerts,
		log:      log,
		staleAge: DefaultStaleOrderAge,
	}
}

// WithStaleOrderAge overrides the pending-order age threshold.
func (s *Service) WithStaleOrderAge(age time.Duration) {
	if age > 0 {
		s.staleAge = age
	}
}

// CheckLowStock flags tracked products at or below their stock threshold.
// It returns the number of products flagged.
func (s *Service) CheckLowStock(ctx context.Context) (int, error) {
	low, err := s.products.ListLowStockProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list low stock: %w", err)
	}
	if len(low) == 0 {
		return 0, nil
	}

	s.log.WithField("count", len(low)).Warn("low stock products detected")

	if s.alerts != nil {
		fields := map[string]string{"count": strconv.Itoa(len(low))}
		for i, p := range low {
			if i == 5 {
				break
			}
			fields["product_"+strconv.Itoa(i)] = fmt.Sprintf("%s (qty %d)", p.Title, p.Inventory.Quantity)
		}
		alert := connector.Alert{
			Severity: "warning",
			Title:    "Low stock",
			Message:  fmt.Sprintf("%d products at or below their stock threshold", len(low)),
			Fields:   fields,
		}
		if err := s.alerts.Notify(ctx, alert); err != nil {
			s.log.WithError(err).Warn("low stock alert delivery failed")
		}
	}
	return len(low), nil
}

// CheckStaleOrders flags pending orders older than the configured age,
// tagging each one so the storefront side can see the flag. It returns
// the number of orders flagged.
func (s *Service) CheckStaleOrders(ctx context.Context, now time.Time) (int, error) {
	pending, err := s.orders.ListOrdersByStatus(ctx, order.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("list pending orders: %w", err)
	}

	var stale []order.Order
	for _, o := range pending {
		if !o.Stale(now, s.staleAge) {
			continue
		}
		stale = append(stale, o)
		if o.Tagged(order.TagStale) {
			continue
		}
		o.Tags = append(o.Tags, order.TagStale)
		if _, err := s.orders.UpdateOrder(ctx, o); err != nil {
			s.log.WithError(err).WithField("order_id", o.ID).Warn("persist stale tag failed")
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	s.log.WithField("count", len(stale)).Warn("stale pending orders detected")

	if s.alerts != nil {
		oldest := stale[0]
		for _, o := range stale {
			if o.PlacedAt.Before(oldest.PlacedAt) {
				oldest = o
			}
		}
		alert := connector.Alert{
			Severity: "warning",
			Title:    "Stale orders",
			Message:  fmt.Sprintf("%d orders pending longer than %s", len(stale), s.staleAge),
			Fields: map[string]string{
				"count":  strconv.Itoa(len(stale)),
				"oldest": oldest.PlacedAt.UTC().Format(time.RFC3339),
			},
		}
		if err := s.alerts.Notify(ctx, alert); err != nil {
			s.log.WithError(err).Warn("stale order alert delivery failed")
		}
	}
	return len(stale), nil
}
