// Package postgres implements the storage interfaces backed by PostgreSQL.
// Structured sub-records (results, images, line items) live in JSONB columns.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xeriaco/sourcing_engine/internal/app/domain/analytics"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/order"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
	"github.com/xeriaco/sourcing_engine/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.RunStore = (*Store)(nil)
var _ storage.ProductStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.AnalyticsStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return err
}

// --- RunStore -----------------------------------------------------------------

func (s *Store) CreateRun(ctx context.Context, run pipeline.Run) (pipeline.Run, error) {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return pipeline.Run{}, err
	}
	errorsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return pipeline.Run{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, run_type, status, triggered_by, results, errors, created_at, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, run.RunID, run.Type, run.Status, run.TriggeredBy, resultsJSON, errorsJSON,
		run.CreatedAt, nullTime(run.StartedAt), nullTime(run.CompletedAt), run.DurationMS)
	if err != nil {
		return pipeline.Run{}, err
	}
	return run, nil
}

func (s *Store) UpdateRun(ctx context.Context, run pipeline.Run) (pipeline.Run, error) {
	resultsJSON, err := json.Marshal(run.Results)
	if err != nil {
		return pipeline.Run{}, err
	}
	errorsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return pipeline.Run{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET status = $2, results = $3, errors = $4, started_at = $5, completed_at = $6, duration_ms = $7
		WHERE id = $1
	`, run.RunID, run.Status, resultsJSON, errorsJSON,
		nullTime(run.StartedAt), nullTime(run.CompletedAt), run.DurationMS)
	if err != nil {
		return pipeline.Run{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return pipeline.Run{}, fmt.Errorf("run %s: %w", run.RunID, storage.ErrNotFound)
	}
	return run, nil
}

const runColumns = `id, run_type, status, triggered_by, results, errors, created_at, started_at, completed_at, duration_ms`

func (s *Store) GetRun(ctx context.Context, id string) (pipeline.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM pipeline_runs
		WHERE id = $1
	`, id)

	run, err := scanRun(row)
	if err != nil {
		return pipeline.Run{}, notFound("run", id, err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]pipeline.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM pipeline_runs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []pipeline.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

func (s *Store) FindActiveRun(ctx context.Context) (pipeline.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM pipeline_runs
		WHERE status IN ('queued', 'running')
		ORDER BY created_at DESC
		LIMIT 1
	`)

	run, err := scanRun(row)
	if err != nil {
		return pipeline.Run{}, notFound("active run", "", err)
	}
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (pipeline.Run, error) {
	var (
		run         pipeline.Run
		resultsRaw  []byte
		errorsRaw   []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&run.RunID, &run.Type, &run.Status, &run.TriggeredBy,
		&resultsRaw, &errorsRaw, &run.CreatedAt, &startedAt, &completedAt, &run.DurationMS); err != nil {
		return pipeline.Run{}, err
	}
	if len(resultsRaw) > 0 {
		_ = json.Unmarshal(resultsRaw, &run.Results)
	}
	if len(errorsRaw) > 0 {
		_ = json.Unmarshal(errorsRaw, &run.Errors)
	}
	run.StartedAt = startedAt.Time
	run.CompletedAt = completedAt.Time
	return run, nil
}

// --- ProductStore ---------------------------------------------------------------

type productDoc struct {
	Supplier  product.Supplier        `json:"supplier"`
	Inventory product.Inventory       `json:"inventory"`
	Images    []product.Image         `json:"images"`
	Enriched  product.EnrichedContent `json:"enriched"`
}

func (s *Store) CreateProduct(ctx context.Context, p product.Product) (product.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	doc, err := json.Marshal(productDoc{Supplier: p.Supplier, Inventory: p.Inventory, Images: p.Images, Enriched: p.Enriched})
	if err != nil {
		return product.Product{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, title, category, cost_usd, shipping_usd, sell_price_aud, compare_at_aud,
			profit_aud, profit_margin_pct, markup_pct, free_shipping, doc, external_id, published_at,
			active, run_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, p.ID, p.Title, p.Category, p.CostUSD, p.ShippingUSD, p.SellPriceAUD, p.CompareAtAUD,
		p.ProfitAUD, p.ProfitMarginPercent, p.MarkupPercent, p.FreeShipping, doc, p.ExternalID,
		nullTime(p.PublishedAt), p.Active, p.RunID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return product.Product{}, err
	}
	return p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p product.Product) (product.Product, error) {
	p.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(productDoc{Supplier: p.Supplier, Inventory: p.Inventory, Images: p.Images, Enriched: p.Enriched})
	if err != nil {
		return product.Product{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET title = $2, category = $3, cost_usd = $4, shipping_usd = $5, sell_price_aud = $6,
			compare_at_aud = $7, profit_aud = $8, profit_margin_pct = $9, markup_pct = $10,
			free_shipping = $11, doc = $12, external_id = $13, published_at = $14, active = $15,
			run_id = $16, updated_at = $17
		WHERE id = $1
	`, p.ID, p.Title, p.Category, p.CostUSD, p.ShippingUSD, p.SellPriceAUD,
		p.CompareAtAUD, p.ProfitAUD, p.ProfitMarginPercent, p.MarkupPercent,
		p.FreeShipping, doc, p.ExternalID, nullTime(p.PublishedAt), p.Active,
		p.RunID, p.UpdatedAt)
	if err != nil {
		return product.Product{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return product.Product{}, fmt.Errorf("product %s: %w", p.ID, storage.ErrNotFound)
	}
	return p, nil
}

const productColumns = `id, title, category, cost_usd, shipping_usd, sell_price_aud, compare_at_aud,
	profit_aud, profit_margin_pct, markup_pct, free_shipping, doc, external_id, published_at,
	active, run_id, created_at, updated_at`

func (s *Store) GetProduct(ctx context.Context, id string) (product.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id)

	p, err := scanProduct(row)
	if err != nil {
		return product.Product{}, notFound("product", id, err)
	}
	return p, nil
}

func (s *Store) GetProductByExternalID(ctx context.Context, externalID string) (product.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE external_id = $1 AND external_id <> ''
	`, externalID)

	p, err := scanProduct(row)
	if err != nil {
		return product.Product{}, notFound("product external id", externalID, err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]product.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at`)
}

func (s *Store) ListActiveProducts(ctx context.Context) ([]product.Product, error) {
	return s.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE active ORDER BY created_at`)
}

func (s *Store) ListUnenrichedProducts(ctx context.Context, limit int) ([]product.Product, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active AND COALESCE(doc->'enriched'->>'Description', '') = ''
		ORDER BY created_at
		LIMIT $1
	`, limit)
}

func (s *Store) ListLowStockProducts(ctx context.Context) ([]product.Product, error) {
	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active
		  AND (doc->'inventory'->>'Tracked')::boolean
		  AND (doc->'inventory'->>'Quantity')::int <= (doc->'inventory'->>'LowStockThreshold')::int
		ORDER BY created_at
	`)
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]product.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanProduct(row scanner) (product.Product, error) {
	var (
		p           product.Product
		docRaw      []byte
		publishedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Category, &p.CostUSD, &p.ShippingUSD,
		&p.SellPriceAUD, &p.CompareAtAUD, &p.ProfitAUD, &p.ProfitMarginPercent,
		&p.MarkupPercent, &p.FreeShipping, &docRaw, &p.ExternalID, &publishedAt,
		&p.Active, &p.RunID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return product.Product{}, err
	}
	if len(docRaw) > 0 {
		var doc productDoc
		_ = json.Unmarshal(docRaw, &doc)
		p.Supplier = doc.Supplier
		p.Inventory = doc.Inventory
		p.Images = doc.Images
		p.Enriched = doc.Enriched
	}
	p.PublishedAt = publishedAt.Time
	return p, nil
}

// --- OrderStore -----------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, o order.Order) (order.Order, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return order.Order{}, err
	}
	tagsJSON, err := json.Marshal(o.Tags)
	if err != nil {
		return order.Order{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, external_id, status, items, tags, total_aud, cost_usd, profit_aud,
			placed_at, fulfilled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, o.ID, o.ExternalID, o.Status, itemsJSON, tagsJSON, o.TotalAUD, o.CostUSD, o.ProfitAUD,
		o.PlacedAt, nullTime(o.FulfilledAt), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func (s *Store) UpdateOrder(ctx context.Context, o order.Order) (order.Order, error) {
	o.UpdatedAt = time.Now().UTC()

	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return order.Order{}, err
	}
	tagsJSON, err := json.Marshal(o.Tags)
	if err != nil {
		return order.Order{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET external_id = $2, status = $3, items = $4, tags = $5, total_aud = $6, cost_usd = $7,
			profit_aud = $8, placed_at = $9, fulfilled_at = $10, updated_at = $11
		WHERE id = $1
	`, o.ID, o.ExternalID, o.Status, itemsJSON, tagsJSON, o.TotalAUD, o.CostUSD,
		o.ProfitAUD, o.PlacedAt, nullTime(o.FulfilledAt), o.UpdatedAt)
	if err != nil {
		return order.Order{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return order.Order{}, fmt.Errorf("order %s: %w", o.ID, storage.ErrNotFound)
	}
	return o, nil
}

const orderColumns = `id, external_id, status, items, tags, total_aud, cost_usd, profit_aud,
	placed_at, fulfilled_at, created_at, updated_at`

func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)

	o, err := scanOrder(row)
	if err != nil {
		return order.Order{}, notFound("order", id, err)
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY placed_at`)
}

func (s *Store) ListOrdersByStatus(ctx context.Context, status order.Status) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY placed_at`, status)
}

func (s *Store) ListOrdersSince(ctx context.Context, since time.Time) ([]order.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE placed_at >= $1 ORDER BY placed_at`, since)
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func scanOrder(row scanner) (order.Order, error) {
	var (
		o           order.Order
		itemsRaw    []byte
		tagsRaw     []byte
		fulfilledAt sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.ExternalID, &o.Status, &itemsRaw, &tagsRaw, &o.TotalAUD,
		&o.CostUSD, &o.ProfitAUD, &o.PlacedAt, &fulfilledAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return order.Order{}, err
	}
	if len(itemsRaw) > 0 {
		_ = json.Unmarshal(itemsRaw, &o.Items)
	}
	if len(tagsRaw) > 0 {
		_ = json.Unmarshal(tagsRaw, &o.Tags)
	}
	o.FulfilledAt = fulfilledAt.Time
	return o, nil
}

// --- AnalyticsStore ---------------------------------------------------------------

func (s *Store) UpsertSnapshot(ctx context.Context, snap analytics.Snapshot) (analytics.Snapshot, error) {
	snap.Date = analytics.Day(snap.Date)
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.CreatedAt = time.Now().UTC()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO analytics_snapshots (id, day, active_products, pending_orders, orders_today,
			revenue_today_aud, profit_today_aud, avg_margin_pct, low_stock_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (day) DO UPDATE SET
			active_products = EXCLUDED.active_products,
			pending_orders = EXCLUDED.pending_orders,
			orders_today = EXCLUDED.orders_today,
			revenue_today_aud = EXCLUDED.revenue_today_aud,
			profit_today_aud = EXCLUDED.profit_today_aud,
			avg_margin_pct = EXCLUDED.avg_margin_pct,
			low_stock_count = EXCLUDED.low_stock_count
		RETURNING id, created_at
	`, snap.ID, snap.Date, snap.ActiveProducts, snap.PendingOrders, snap.OrdersToday,
		snap.RevenueTodayAUD, snap.ProfitTodayAUD, snap.AvgMarginPct, snap.LowStockCount,
		snap.CreatedAt).Scan(&snap.ID, &snap.CreatedAt)
	if err != nil {
		return analytics.Snapshot{}, err
	}
	return snap, nil
}

const snapshotColumns = `id, day, active_products, pending_orders, orders_today,
	revenue_today_aud, profit_today_aud, avg_margin_pct, low_stock_count, created_at`

func (s *Store) GetSnapshot(ctx context.Context, day time.Time) (analytics.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM analytics_snapshots
		WHERE day = $1
	`, analytics.Day(day))

	snap, err := scanSnapshot(row)
	if err != nil {
		return analytics.Snapshot{}, notFound("snapshot", analytics.Day(day).Format("2006-01-02"), err)
	}
	return snap, nil
}

func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM analytics_snapshots
		ORDER BY day DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []analytics.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

func scanSnapshot(row scanner) (analytics.Snapshot, error) {
	var snap analytics.Snapshot
	if err := row.Scan(&snap.ID, &snap.Date, &snap.ActiveProducts, &snap.PendingOrders,
		&snap.OrdersToday, &snap.RevenueTodayAUD, &snap.ProfitTodayAUD, &snap.AvgMarginPct,
		&snap.LowStockCount, &snap.CreatedAt); err != nil {
		return analytics.Snapshot{}, err
	}
	return snap, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
