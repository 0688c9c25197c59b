package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xeriaco/sourcing_engine/internal/app/domain/analytics"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/order"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
	"github.com/xeriaco/sourcing_engine/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu        sync.RWMutex
	runs      map[string]pipeline.Run
	runOrder  []string
	products  map[string]product.Product
	orders    map[string]order.Order
	snapshots map[time.Time]analytics.Snapshot
}

var _ storage.RunStore = (*Store)(nil)
var _ storage.ProductStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.AnalyticsStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		runs:      make(map[string]pipeline.Run),
		products:  make(map[string]product.Product),
		orders:    make(map[string]order.Order),
		snapshots: make(map[time.Time]analytics.Snapshot),
	}
}

// RunStore implementation -----------------------------------------------------

func (s *Store) CreateRun(_ context.Context, run pipeline.Run) (pipeline.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.RunID == "" {
		run.RunID = uuid.NewString()
	} else if _, exists := s.runs[run.RunID]; exists {
		return pipeline.Run{}, fmt.Errorf("run %s already exists", run.RunID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	s.runs[run.RunID] = cloneRun(run)
	s.runOrder = append(s.runOrder, run.RunID)
	return run, nil
}

func (s *Store) UpdateRun(_ context.Context, run pipeline.Run) (pipeline.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.runs[run.RunID]
	if !ok {
		return pipeline.Run{}, fmt.Errorf("run %s: %w", run.RunID, storage.ErrNotFound)
	}

	run.CreatedAt = original.CreatedAt
	s.runs[run.RunID] = cloneRun(run)
	return run, nil
}

func (s *Store) GetRun(_ context.Context, id string) (pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return pipeline.Run{}, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return cloneRun(run), nil
}

func (s *Store) ListRuns(_ context.Context, limit int) ([]pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]pipeline.Run, 0, len(s.runOrder))
	// Newest first.
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		result = append(result, cloneRun(s.runs[s.runOrder[i]]))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) FindActiveRun(_ context.Context) (pipeline.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if run.Status.Active() {
			return cloneRun(run), nil
		}
	}
	return pipeline.Run{}, fmt.Errorf("active run: %w", storage.ErrNotFound)
}

// ProductStore implementation ---------------------------------------------------

func (s *Store) CreateProduct(_ context.Context, p product.Product) (product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, exists := s.products[p.ID]; exists {
		return product.Product{}, fmt.Errorf("product %s already exists", p.ID)
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	s.products[p.ID] = cloneProduct(p)
	return p, nil
}

func (s *Store) UpdateProduct(_ context.Context, p product.Product) (product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.products[p.ID]
	if !ok {
		return product.Product{}, fmt.Errorf("product %s: %w", p.ID, storage.ErrNotFound)
	}

	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	s.products[p.ID] = cloneProduct(p)
	return p, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return product.Product{}, fmt.Errorf("product %s: %w", id, storage.ErrNotFound)
	}
	return cloneProduct(p), nil
}

func (s *Store) GetProductByExternalID(_ context.Context, externalID string) (product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.ExternalID != "" && p.ExternalID == externalID {
			return cloneProduct(p), nil
		}
	}
	return product.Product{}, fmt.Errorf("product external id %s: %w", externalID, storage.ErrNotFound)
}

func (s *Store) ListProducts(_ context.Context) ([]product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProductsLocked(func(product.Product) bool { return true }, 0), nil
}

func (s *Store) ListActiveProducts(_ context.Context) ([]product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProductsLocked(func(p product.Product) bool { return p.Active }, 0), nil
}

func (s *Store) ListUnenrichedProducts(_ context.Context, limit int) ([]product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProductsLocked(product.Product.Enrichable, limit), nil
}

func (s *Store) ListLowStockProducts(_ context.Context) ([]product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listProductsLocked(func(p product.Product) bool { return p.Active && p.LowStock() }, 0), nil
}

func (s *Store) listProductsLocked(keep func(product.Product) bool, limit int) []product.Product {
	result := make([]product.Product, 0)
	for _, p := range s.products {
		if keep(p) {
			result = append(result, cloneProduct(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// OrderStore implementation -----------------------------------------------------

func (s *Store) CreateOrder(_ context.Context, o order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	} else if _, exists := s.orders[o.ID]; exists {
		return order.Order{}, fmt.Errorf("order %s already exists", o.ID)
	}

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	s.orders[o.ID] = cloneOrder(o)
	return o, nil
}

func (s *Store) UpdateOrder(_ context.Context, o order.Order) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.orders[o.ID]
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", o.ID, storage.ErrNotFound)
	}

	o.CreatedAt = original.CreatedAt
	o.UpdatedAt = time.Now().UTC()

	s.orders[o.ID] = cloneOrder(o)
	return o, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrders(_ context.Context) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOrdersLocked(func(order.Order) bool { return true }), nil
}

func (s *Store) ListOrdersByStatus(_ context.Context, status order.Status) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOrdersLocked(func(o order.Order) bool { return o.Status == status }), nil
}

func (s *Store) ListOrdersSince(_ context.Context, since time.Time) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOrdersLocked(func(o order.Order) bool { return !o.PlacedAt.Before(since) }), nil
}

func (s *Store) listOrdersLocked(keep func(order.Order) bool) []order.Order {
	result := make([]order.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			result = append(result, cloneOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PlacedAt.Before(result[j].PlacedAt) })
	return result
}

// AnalyticsStore implementation ---------------------------------------------------

func (s *Store) UpsertSnapshot(_ context.Context, snap analytics.Snapshot) (analytics.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Date = analytics.Day(snap.Date)
	if existing, ok := s.snapshots[snap.Date]; ok {
		snap.ID = existing.ID
		snap.CreatedAt = existing.CreatedAt
	} else {
		if snap.ID == "" {
			snap.ID = uuid.NewString()
		}
		snap.CreatedAt = time.Now().UTC()
	}

	s.snapshots[snap.Date] = snap
	return snap, nil
}

func (s *Store) GetSnapshot(_ context.Context, day time.Time) (analytics.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[analytics.Day(day)]
	if !ok {
		return analytics.Snapshot{}, fmt.Errorf("snapshot %s: %w", analytics.Day(day).Format("2006-01-02"), storage.ErrNotFound)
	}
	return snap, nil
}

func (s *Store) ListSnapshots(_ context.Context, limit int) ([]analytics.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]analytics.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		result = append(result, snap)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.After(result[j].Date) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Helpers --------------------------------------------------------------------

func cloneRun(run pipeline.Run) pipeline.Run {
	run.Errors = append([]pipeline.StageError(nil), run.Errors...)
	return run
}

func cloneProduct(p product.Product) product.Product {
	p.Images = append([]product.Image(nil), p.Images...)
	p.Enriched.Tags = append([]string(nil), p.Enriched.Tags...)
	return p
}

func cloneOrder(o order.Order) order.Order {
	o.Items = append([]order.LineItem(nil), o.Items...)
	o.Tags = append([]string(nil), o.Tags...)
	return o
}
