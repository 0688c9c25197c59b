// Package analytics aggregates the daily business snapshot.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/analytics"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/order"
	"github.com/xeriaco/sourcing_engine/internal/app/storage"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

// Service computes and persists daily snapshots.
type Service struct {
	products  storage.ProductStore
	orders    storage.OrderStore
	snapshots storage.AnalyticsStore
	alerts    connector.AlertSink
	log       *logger.Logger
}

// New constructs the analytics service.
func New(products storage.ProductStore, orders storage.OrderStore, snapshots storage.AnalyticsStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("analytics")
	}
	return &Service{
		products:  products,
		orders:    orders,
		snapshots: snapshots,
		log:       log,
	}
}

// WithAlerts attaches the sink that receives the daily report.
func (s *Service) WithAlerts(alerts connector.AlertSink) {
	s.alerts = alerts
}

// Snapshot aggregates the catalog and order book as of now and upserts the
// result under now's UTC day. Running it twice a day replaces the earlier
// snapshot.
func (s *Service) Snapshot(ctx context.Context, now time.Time) (analytics.Snapshot, error) {
	active, err := s.products.ListActiveProducts(ctx)
	if err != nil {
		return analytics.Snapshot{}, fmt.Errorf("list active products: %w", err)
	}
	low, err := s.products.ListLowStockProducts(ctx)
	if err != nil {
		return analytics.Snapshot{}, fmt.Errorf("list low stock: %w", err)
	}
	pending, err := s.orders.ListOrdersByStatus(ctx, order.StatusPending)
	if err != nil {
		return analytics.Snapshot{}, fmt.Errorf("list pending orders: %w", err)
	}
	today, err := s.orders.ListOrdersSince(ctx, analytics.Day(now))
	if err != nil {
		return analytics.Snapshot{}, fmt.Errorf("list today's orders: %w", err)
	}

	var revenue, profit float64
	for _, o := range today {
		if o.Status == order.StatusCancelled {
			continue
		}
		revenue += o.TotalAUD
		profit += o.ProfitAUD
	}

	var marginSum float64
	for _, p := range active {
		marginSum += p.ProfitMarginPercent
	}
	avgMargin := 0.0
	if len(active) > 0 {
		avgMargin = math.Round(marginSum/float64(len(active))*100) / 100
	}

	snap := analytics.Snapshot{
		Date:            analytics.Day(now),
		ActiveProducts:  len(active),
		PendingOrders:   len(pending),
		OrdersToday:     len(today),
		RevenueTodayAUD: math.Round(revenue*100) / 100,
		ProfitTodayAUD:  math.Round(profit*100) / 100,
		AvgMarginPct:    avgMargin,
		LowStockCount:   len(low),
	}

	snap, err = s.snapshots.UpsertSnapshot(ctx, snap)
	if err != nil {
		return analytics.Snapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}

	s.log.WithField("day", snap.Date.Format("2006-01-02")).
		WithField("active_products", snap.ActiveProducts).
		WithField("orders_today", snap.OrdersToday).
		Info("daily snapshot recorded")

	if s.alerts != nil {
		alert := connector.Alert{
			Severity: "info",
			Title:    "Daily report",
			Message:  fmt.Sprintf("%d orders, %.2f AUD revenue, %.2f AUD profit", snap.OrdersToday, snap.RevenueTodayAUD, snap.ProfitTodayAUD),
			Fields: map[string]string{
				"day":             snap.Date.Format("2006-01-02"),
				"active_products": fmt.Sprintf("%d", snap.ActiveProducts),
				"pending_orders":  fmt.Sprintf("%d", snap.PendingOrders),
				"low_stock":       fmt.Sprintf("%d", snap.LowStockCount),
			},
		}
		if err := s.alerts.Notify(ctx, alert); err != nil {
			s.log.WithError(err).Warn("daily report alert failed")
		}
	}
	return snap, nil
}

// History lists recent snapshots, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]analytics.Snapshot, error) {
	if limit <= 0 || limit > 365 {
		limit = 30
	}
	return s.snapshots.ListSnapshots(ctx, limit)
}
