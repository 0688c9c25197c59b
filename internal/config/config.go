// Package config loads runtime configuration from the environment, with an
// optional .env file for local development and an optional YAML file for
// markup tier overrides.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xeriaco/sourcing_engine/internal/app/domain/pricing"
)

// Config is the full runtime configuration of the engine.
type Config struct {
	HTTP      HTTPConfig
	Log       LogConfig
	Database  DatabaseConfig
	Pipeline  PipelineConfig
	Pricing   PricingConfig
	Connector ConnectorConfig
}

type HTTPConfig struct {
	Addr string `env:"HTTP_ADDR,default=:8080"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
}

type DatabaseConfig struct {
	// URL is a postgres DSN. Empty means in-memory storage.
	URL string `env:"DATABASE_URL,default="`
}

type PipelineConfig struct {
	MaxProductsPerRun int     `env:"MAX_PRODUCTS_PER_RUN,default=50"`
	Categories        string  `env:"SOURCE_CATEGORIES,default="`
	MinSupplierRating float64 `env:"MIN_SUPPLIER_RATING,default=4.5"`
	MinSupplierOrders int     `env:"MIN_SUPPLIER_ORDERS,default=100"`
}

// SourceCategories splits the comma-separated category list.
func (c PipelineConfig) SourceCategories() []string {
	var out []string
	for _, cat := range strings.Split(c.Categories, ",") {
		if cat = strings.TrimSpace(cat); cat != "" {
			out = append(out, cat)
		}
	}
	return out
}

type PricingConfig struct {
	MinProfitAUD             float64 `env:"MIN_PROFIT_AUD,default=8.0"`
	USDToAUDRate             float64 `env:"USD_TO_AUD_RATE,default=1.55"`
	FreeShippingThresholdAUD float64 `env:"FREE_SHIPPING_THRESHOLD_AUD,default=80.0"`
	// TiersFile points at a YAML markup tier table. Empty uses defaults.
	TiersFile string `env:"MARKUP_TIERS_FILE,default="`
}

type ConnectorConfig struct {
	MarketplaceEndpoint string        `env:"MARKETPLACE_ENDPOINT,default="`
	MarketplaceAPIKey   string        `env:"MARKETPLACE_API_KEY,default="`
	MarketplaceDelay    time.Duration `env:"MARKETPLACE_SCRAPE_DELAY,default=2500ms"`

	StorefrontEndpoint string `env:"STOREFRONT_ENDPOINT,default="`
	StorefrontAPIKey   string `env:"STOREFRONT_API_KEY,default="`

	GeminiAPIKey string `env:"GEMINI_API_KEY,default="`
	GeminiModel  string `env:"GEMINI_MODEL,default=gemini-1.5-flash"`

	CompetitorEndpoint string `env:"COMPETITOR_SCAN_ENDPOINT,default="`
	CompetitorAPIKey   string `env:"COMPETITOR_SCAN_API_KEY,default="`

	AlertWebhookURL   string `env:"ALERT_WEBHOOK_URL,default="`
	CatalogWebhookURL string `env:"CATALOG_WEBHOOK_URL,default="`

	RateAPIEndpoint string `env:"RATE_API_ENDPOINT,default="`
	RateAPIKey      string `env:"RATE_API_KEY,default="`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.Pipeline.MaxProductsPerRun <= 0 {
		return nil, fmt.Errorf("MAX_PRODUCTS_PER_RUN must be positive")
	}
	return &cfg, nil
}

type tiersFile struct {
	MarkupTiers []pricing.MarkupTier `yaml:"markup_tiers"`
}

// LoadMarkupTiers reads a markup tier table from a YAML file. The table must
// satisfy the same ordering rules the pricing engine enforces.
func LoadMarkupTiers(path string) ([]pricing.MarkupTier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markup tiers: %w", err)
	}

	var parsed tiersFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse markup tiers: %w", err)
	}
	if len(parsed.MarkupTiers) == 0 {
		return nil, fmt.Errorf("markup tiers file %s has no tiers", path)
	}

	// Files may omit the unbounded tail tier; extend the last tier's markup
	// to cover everything above its cap.
	tiers := parsed.MarkupTiers
	if last := tiers[len(tiers)-1]; !math.IsInf(last.MaxCostUSD, 1) {
		tiers = append(tiers, pricing.MarkupTier{
			MaxCostUSD:    math.Inf(1),
			MarkupPercent: last.MarkupPercent,
		})
	}
	parsed.MarkupTiers = tiers

	check := pricing.Config{
		MarkupTiers:          parsed.MarkupTiers,
		MinProfitAUD:         1,
		USDToAUDRate:         1.5,
		PsychologicalEndings: pricing.DefaultEndings(),
	}
	if err := check.Validate(); err != nil {
		return nil, fmt.Errorf("markup tiers file %s: %w", path, err)
	}
	return parsed.MarkupTiers, nil
}

// MarkupTiersOrDefault loads the configured tier file, falling back to the
// built-in table when no file is configured.
func (c PricingConfig) MarkupTiersOrDefault() ([]pricing.MarkupTier, error) {
	if c.TiersFile == "" {
		return pricing.DefaultMarkupTiers(), nil
	}
	return LoadMarkupTiers(c.TiersFile)
}
