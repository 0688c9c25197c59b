package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
	"github.com/xeriaco/sourcing_engine/internal/app/connectors/gemini"
	"github.com/xeriaco/sourcing_engine/internal/app/connectors/marketplace"
	"github.com/xeriaco/sourcing_engine/internal/app/connectors/storefront"
	"github.com/xeriaco/sourcing_engine/internal/app/connectors/webhook"
	pipelinedomain "github.com/xeriaco/sourcing_engine/internal/app/domain/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/pricing"
	analyticssvc "github.com/xeriaco/sourcing_engine/internal/app/services/analytics"
	anomalysvc "github.com/xeriaco/sourcing_engine/internal/app/services/anomaly"
	pipelinesvc "github.com/xeriaco/sourcing_engine/internal/app/services/pipeline"
	pricingsvc "github.com/xeriaco/sourcing_engine/internal/app/services/pricing"
	"github.com/xeriaco/sourcing_engine/internal/app/services/scheduler"
	"github.com/xeriaco/sourcing_engine/internal/app/storage"
	"github.com/xeriaco/sourcing_engine/internal/app/storage/memory"
	"github.com/xeriaco/sourcing_engine/internal/app/system"
	"github.com/xeriaco/sourcing_engine/internal/config"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Runs      storage.RunStore
	Products  storage.ProductStore
	Orders    storage.OrderStore
	Analytics storage.AnalyticsStore
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	closers []func() error

	Stores    Stores
	Pipeline  *pipelinesvc.Service
	Pricing   *pricingsvc.Service
	Analytics *analyticssvc.Service
	Anomaly   *anomalysvc.Service
	Scheduler *scheduler.Scheduler
}

// New builds a fully initialised application from configuration. Connectors
// without an endpoint configured are left unwired; the stages that need them
// degrade instead of failing startup.
func New(ctx context.Context, cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Runs == nil {
		stores.Runs = mem
	}
	if stores.Products == nil {
		stores.Products = mem
	}
	if stores.Orders == nil {
		stores.Orders = mem
	}
	if stores.Analytics == nil {
		stores.Analytics = mem
	}

	manager := system.NewManager()
	httpClient := &http.Client{Timeout: 30 * time.Second}

	app := &Application{manager: manager, log: log, Stores: stores}

	tiers, err := cfg.Pricing.MarkupTiersOrDefault()
	if err != nil {
		return nil, fmt.Errorf("load markup tiers: %w", err)
	}
	rates := pricingsvc.NewRateStore(cfg.Pricing.USDToAUDRate)
	pricingService := pricingsvc.New(stores.Products, rates, pricing.Config{
		MarkupTiers:              tiers,
		MinProfitAUD:             cfg.Pricing.MinProfitAUD,
		FreeShippingThresholdAUD: cfg.Pricing.FreeShippingThresholdAUD,
	}, log)
	app.Pricing = pricingService

	var (
		sourcer connector.Sourcer
		enrich  connector.Enricher
		publish connector.Publisher
		scanner connector.CompetitorScanner
		syncer  connector.CatalogSyncer
		alerts  connector.AlertSink
	)

	if endpoint := strings.TrimSpace(cfg.Connector.MarketplaceEndpoint); endpoint != "" {
		sourcer, err = marketplace.New(httpClient, endpoint, cfg.Connector.MarketplaceAPIKey, cfg.Connector.MarketplaceDelay, log)
		if err != nil {
			return nil, fmt.Errorf("configure marketplace sourcer: %w", err)
		}
	} else {
		log.Warn("MARKETPLACE_ENDPOINT not set; sourcing disabled")
	}

	if endpoint := strings.TrimSpace(cfg.Connector.StorefrontEndpoint); endpoint != "" {
		sf, err := storefront.New(httpClient, endpoint, cfg.Connector.StorefrontAPIKey, log)
		if err != nil {
			return nil, fmt.Errorf("configure storefront publisher: %w", err)
		}
		publish = sf
		pricingService.WithPublisher(sf)
	} else {
		log.Warn("STOREFRONT_ENDPOINT not set; publishing disabled")
	}

	if key := strings.TrimSpace(cfg.Connector.GeminiAPIKey); key != "" {
		enricher, err := gemini.New(ctx, key, cfg.Connector.GeminiModel, log)
		if err != nil {
			return nil, fmt.Errorf("configure gemini enricher: %w", err)
		}
		enrich = enricher
		app.closers = append(app.closers, enricher.Close)
	} else {
		log.Warn("GEMINI_API_KEY not set; enrichment disabled")
	}

	if endpoint := strings.TrimSpace(cfg.Connector.CompetitorEndpoint); endpoint != "" {
		scanner, err = marketplace.NewScanner(httpClient, endpoint, cfg.Connector.CompetitorAPIKey, cfg.Connector.MarketplaceDelay, log)
		if err != nil {
			return nil, fmt.Errorf("configure competitor scanner: %w", err)
		}
	} else {
		log.Warn("COMPETITOR_SCAN_ENDPOINT not set; competitor scans disabled")
	}

	if endpoint := strings.TrimSpace(cfg.Connector.CatalogWebhookURL); endpoint != "" {
		syncer, err = webhook.NewCatalogSyncer(httpClient, endpoint, log)
		if err != nil {
			return nil, fmt.Errorf("configure catalog syncer: %w", err)
		}
	} else {
		log.Warn("CATALOG_WEBHOOK_URL not set; catalog sync disabled")
	}

	if endpoint := strings.TrimSpace(cfg.Connector.AlertWebhookURL); endpoint != "" {
		alerts, err = webhook.NewAlertSink(httpClient, endpoint, log)
		if err != nil {
			return nil, fmt.Errorf("configure alert webhook: %w", err)
		}
	} else {
		log.Warn("ALERT_WEBHOOK_URL not set; alerts disabled")
	}

	executor := pipelinesvc.NewExecutor(stores.Runs, stores.Products, pricingService, pipelinesvc.ExecutorConfig{
		MaxProductsPerRun: cfg.Pipeline.MaxProductsPerRun,
		SourceCategories:  cfg.Pipeline.SourceCategories(),
		MinSupplierRating: cfg.Pipeline.MinSupplierRating,
		MinSupplierOrders: cfg.Pipeline.MinSupplierOrders,
	}, log)
	executor.WithConnectors(sourcer, enrich, publish, scanner, syncer, alerts)

	pipelineService := pipelinesvc.New(stores.Runs, executor, log)
	app.Pipeline = pipelineService

	analyticsService := analyticssvc.New(stores.Products, stores.Orders, stores.Analytics, log)
	if alerts != nil {
		analyticsService.WithAlerts(alerts)
	}
	app.Analytics = analyticsService

	anomalyService := anomalysvc.New(stores.Products, stores.Orders, alerts, log)
	app.Anomaly = anomalyService

	rateRunner := pricingsvc.NewRefresher(pricingService, log)
	if endpoint := strings.TrimSpace(cfg.Connector.RateAPIEndpoint); endpoint != "" {
		fetcher, err := pricingsvc.NewHTTPRateFetcher(httpClient, endpoint, cfg.Connector.RateAPIKey, log)
		if err != nil {
			log.WithError(err).Warn("configure exchange rate fetcher")
		} else {
			rateRunner.WithFetcher(fetcher)
		}
	} else {
		log.Warn("RATE_API_ENDPOINT not set; exchange rate refresh disabled")
	}

	sched := scheduler.New(log)
	app.Scheduler = sched
	if err := app.registerJobs(sched); err != nil {
		return nil, err
	}

	for _, svc := range []system.Service{pipelineService, rateRunner, sched} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return app, nil
}

// registerJobs binds the standing cadences to their services. Pipeline runs
// skipped because another run is in flight are logged, not errors.
func (a *Application) registerJobs(sched *scheduler.Scheduler) error {
	runJob := func(runType pipelinedomain.RunType) scheduler.JobFunc {
		return func(ctx context.Context) {
			_, err := a.Pipeline.Trigger(ctx, runType, pipelinedomain.TriggerCron)
			switch {
			case errors.Is(err, pipelinesvc.ErrRunInFlight):
				a.log.WithField("run_type", string(runType)).Warn("scheduled run skipped; run already in flight")
			case err != nil:
				a.log.WithError(err).WithField("run_type", string(runType)).Error("scheduled run failed to start")
			}
		}
	}

	jobs := []struct {
		name string
		spec string
		fn   scheduler.JobFunc
	}{
		{"full-run", scheduler.SpecFullRun, runJob(pipelinedomain.TypeFull)},
		{"ai-enrich", scheduler.SpecAIEnrich, runJob(pipelinedomain.TypeAIEnrich)},
		{"competitor-scan", scheduler.SpecCompetitorScan, runJob(pipelinedomain.TypeCompetitorScan)},
		{"catalog-sync", scheduler.SpecCatalogSync, runJob(pipelinedomain.TypeAirtableSync)},
		{"daily-snapshot", scheduler.SpecDailySnapshot, func(ctx context.Context) {
			if _, err := a.Analytics.Snapshot(ctx, time.Now()); err != nil {
				a.log.WithError(err).Error("daily snapshot failed")
			}
		}},
		{"low-stock-check", scheduler.SpecLowStockCheck, func(ctx context.Context) {
			if _, err := a.Anomaly.CheckLowStock(ctx); err != nil {
				a.log.WithError(err).Error("low stock check failed")
			}
		}},
		{"stale-orders", scheduler.SpecStaleOrders, func(ctx context.Context) {
			if _, err := a.Anomaly.CheckStaleOrders(ctx, time.Now()); err != nil {
				a.log.WithError(err).Error("stale order check failed")
			}
		}},
	}
	for _, j := range jobs {
		if err := sched.Register(j.name, j.spec, j.fn); err != nil {
			return fmt.Errorf("register job %s: %w", j.name, err)
		}
	}
	return nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases held clients.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	for _, closeFn := range a.closers {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
