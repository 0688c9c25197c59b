package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 50, cfg.Pipeline.MaxProductsPerRun)
	assert.Equal(t, 8.0, cfg.Pricing.MinProfitAUD)
	assert.Equal(t, 1.55, cfg.Pricing.USDToAUDRate)
	assert.Equal(t, int64(2500), cfg.Connector.MarketplaceDelay.Milliseconds())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MAX_PRODUCTS_PER_RUN", "10")
	t.Setenv("SOURCE_CATEGORIES", "pet-supplies, home-garden ,,gadgets")
	t.Setenv("DATABASE_URL", "postgres://localhost/engine")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Pipeline.MaxProductsPerRun)
	assert.Equal(t, []string{"pet-supplies", "home-garden", "gadgets"}, cfg.Pipeline.SourceCategories())
	assert.Equal(t, "postgres://localhost/engine", cfg.Database.URL)
}

func TestLoadRejectsNonPositiveBudget(t *testing.T) {
	t.Setenv("MAX_PRODUCTS_PER_RUN", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadMarkupTiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	data := `markup_tiers:
  - max_cost_usd: 10
    markup_percent: 100
  - max_cost_usd: 50
    markup_percent: 50
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	tiers, err := LoadMarkupTiers(path)
	require.NoError(t, err)

	// The unbounded tail tier is appended when the file omits it.
	require.Len(t, tiers, 3)
	assert.True(t, math.IsInf(tiers[2].MaxCostUSD, 1))
	assert.Equal(t, 50.0, tiers[2].MarkupPercent)
}

func TestLoadMarkupTiersRejectsUnsorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	data := `markup_tiers:
  - max_cost_usd: 50
    markup_percent: 50
  - max_cost_usd: 10
    markup_percent: 100
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	_, err := LoadMarkupTiers(path)
	assert.Error(t, err)
}

func TestMarkupTiersOrDefault(t *testing.T) {
	tiers, err := PricingConfig{}.MarkupTiersOrDefault()
	require.NoError(t, err)
	assert.Len(t, tiers, 5)
}
