package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id           TEXT PRIMARY KEY,
		run_type     TEXT NOT NULL,
		status       TEXT NOT NULL,
		triggered_by TEXT NOT NULL DEFAULT '',
		results      JSONB NOT NULL DEFAULT '{}',
		errors       JSONB NOT NULL DEFAULT '[]',
		created_at   TIMESTAMPTZ NOT NULL,
		started_at   TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		duration_ms  BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS pipeline_runs_status_idx ON pipeline_runs (status)`,
	`CREATE TABLE IF NOT EXISTS products (
		id                TEXT PRIMARY KEY,
		title             TEXT NOT NULL,
		category          TEXT NOT NULL DEFAULT '',
		cost_usd          DOUBLE PRECISION NOT NULL DEFAULT 0,
		shipping_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
		sell_price_aud    DOUBLE PRECISION NOT NULL DEFAULT 0,
		compare_at_aud    DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit_aud        DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit_margin_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
		markup_pct        DOUBLE PRECISION NOT NULL DEFAULT 0,
		free_shipping     BOOLEAN NOT NULL DEFAULT FALSE,
		doc               JSONB NOT NULL DEFAULT '{}',
		external_id       TEXT NOT NULL DEFAULT '',
		published_at      TIMESTAMPTZ,
		active            BOOLEAN NOT NULL DEFAULT TRUE,
		run_id            TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS products_active_idx ON products (active)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id           TEXT PRIMARY KEY,
		external_id  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		items        JSONB NOT NULL DEFAULT '[]',
		tags         JSONB NOT NULL DEFAULT '[]',
		total_aud    DOUBLE PRECISION NOT NULL DEFAULT 0,
		cost_usd     DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit_aud   DOUBLE PRECISION NOT NULL DEFAULT 0,
		placed_at    TIMESTAMPTZ NOT NULL,
		fulfilled_at TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_status_idx ON orders (status)`,
	`CREATE TABLE IF NOT EXISTS analytics_snapshots (
		id                TEXT PRIMARY KEY,
		day               TIMESTAMPTZ NOT NULL UNIQUE,
		active_products   INTEGER NOT NULL DEFAULT 0,
		pending_orders    INTEGER NOT NULL DEFAULT 0,
		orders_today      INTEGER NOT NULL DEFAULT 0,
		revenue_today_aud DOUBLE PRECISION NOT NULL DEFAULT 0,
		profit_today_aud  DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_margin_pct    DOUBLE PRECISION NOT NULL DEFAULT 0,
		low_stock_count   INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables the store expects. Statements are
// idempotent; safe to run on every boot.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
