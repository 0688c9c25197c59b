package pipeline

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
	domain "github.com/xeriaco/sourcing_engine/internal/app/domain/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
	"github.com/xeriaco/sourcing_engine/internal/app/metrics"
	pricingsvc "github.com/xeriaco/sourcing_engine/internal/app/services/pricing"
	"github.com/xeriaco/sourcing_engine/internal/app/storage"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

// ExecutorConfig bounds a single run.
type ExecutorConfig struct {
	MaxProductsPerRun int
	SourceCategories  []string
	MinSupplierRating float64
	MinSupplierOrders int
}

// Executor walks a run through its stage plan. Stage-level failures are
// recorded on the run and counted; only a failure of the first sourcing
// call fails the whole run.
type Executor struct {
	runs     storage.RunStore
	products storage.ProductStore
	pricing  *pricingsvc.Service
	cfg      ExecutorConfig
	log      *logger.Logger

	sourcer connector.Sourcer
	enrich  connector.Enricher
	publish connector.Publisher
	scanner connector.CompetitorScanner
	syncer  connector.CatalogSyncer
	alerts  connector.AlertSink
}

// NewExecutor builds an executor over the given stores and pricing service.
// Connectors are attached separately; a nil connector skips its stage.
func NewExecutor(runs storage.RunStore, products storage.ProductStore, pricing *pricingsvc.Service, cfg ExecutorConfig, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewDefault("pipeline-executor")
	}
	if cfg.MaxProductsPerRun <= 0 {
		cfg.MaxProductsPerRun = 50
	}
	return &Executor{
		runs:     runs,
		products: products,
		pricing:  pricing,
		cfg:      cfg,
		log:      log,
	}
}

// WithConnectors attaches the upstream systems the stages call.
func (e *Executor) WithConnectors(sourcer connector.Sourcer, enrich connector.Enricher, publish connector.Publisher, scanner connector.CompetitorScanner, syncer connector.CatalogSyncer, alerts connector.AlertSink) {
	e.sourcer = sourcer
	e.enrich = enrich
	e.publish = publish
	e.scanner = scanner
	e.syncer = syncer
	e.alerts = alerts
}

// Execute drives run to a terminal status. It never returns a partial
// failure as an error; the run record carries the outcome.
func (e *Executor) Execute(ctx context.Context, run domain.Run) {
	log := e.log.WithField("run_id", run.RunID).WithField("run_type", string(run.Type))

	if err := run.Transition(domain.StatusRunning, time.Now()); err != nil {
		log.WithError(err).Error("run cannot start")
		return
	}
	if updated, err := e.runs.UpdateRun(ctx, run); err != nil {
		log.WithError(err).Error("persist running status failed")
		return
	} else {
		run = updated
	}
	log.Info("run started")

	err := e.executeStages(ctx, &run, log)

	final := domain.StatusCompleted
	if err != nil {
		final = domain.StatusFailed
		run.RecordError("run", err, time.Now())
		log.WithError(err).Error("run failed")
	}
	if terr := run.Transition(final, time.Now()); terr != nil {
		log.WithError(terr).Error("terminal transition rejected")
		return
	}
	if _, uerr := e.runs.UpdateRun(ctx, run); uerr != nil {
		log.WithError(uerr).Error("persist terminal status failed")
	}

	metrics.RecordRun(string(run.Type), string(final), time.Duration(run.DurationMS)*time.Millisecond)
	log.WithField("status", string(final)).
		WithField("duration_ms", run.DurationMS).
		Info("run finished")

	if e.alerts != nil {
		alert := connector.Alert{
			Severity: "info",
			Title:    "Pipeline run completed",
			Message:  fmt.Sprintf("%s run finished in %dms", run.Type, run.DurationMS),
			Fields: map[string]string{
				"run_id":   run.RunID,
				"run_type": string(run.Type),
				"sourced":  strconv.Itoa(run.Results.ProductsSourced),
				"listed":   strconv.Itoa(run.Results.ProductsListed),
				"enriched": strconv.Itoa(run.Results.EnrichedCount),
				"failed":   strconv.Itoa(run.Results.FailedCount),
			},
		}
		if final == domain.StatusFailed {
			alert.Severity = "error"
			alert.Title = "Pipeline run failed"
			alert.Message = err.Error()
		}
		if nerr := e.alerts.Notify(ctx, alert); nerr != nil {
			log.WithError(nerr).Warn("run alert delivery failed")
		}
	}
}

// executeStages runs the stage plan for the run type. A panic in a stage is
// converted into a run failure instead of taking the process down.
func (e *Executor) executeStages(ctx context.Context, run *domain.Run, log *logger.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()

	switch run.Type {
	case domain.TypeFull:
		if err := e.stageSource(ctx, run, log, true); err != nil {
			return err
		}
		e.stageEnrich(ctx, run, log)
		e.stageSync(ctx, run, log)
		return nil
	case domain.TypeTrendScout:
		return e.stageSource(ctx, run, log, false)
	case domain.TypeSupplierSource:
		return e.stageSource(ctx, run, log, true)
	case domain.TypeAIEnrich:
		e.stageEnrich(ctx, run, log)
		return nil
	case domain.TypeCompetitorScan:
		return e.stageCompetitorScan(ctx, run, log)
	case domain.TypeAirtableSync:
		e.stageSync(ctx, run, log)
		return nil
	default:
		return fmt.Errorf("unknown run type %q", run.Type)
	}
}

// stageSource discovers candidates and, when publish is set, prices them,
// generates listing copy and lists them. Copy must be in place before the
// listing goes live. The first sourcing call failing is fatal for the run;
// losses on individual candidates are soft.
func (e *Executor) stageSource(ctx context.Context, run *domain.Run, log *logger.Logger, publish bool) error {
	if e.sourcer == nil {
		log.Warn("no sourcer configured; skipping sourcing stage")
		return nil
	}

	budget := e.cfg.MaxProductsPerRun
	categories := e.cfg.SourceCategories
	if len(categories) == 0 {
		categories = []string{""}
	}

	var candidates []product.Candidate
	for i, category := range categories {
		if budget-len(candidates) <= 0 {
			break
		}
		query := connector.SourceQuery{
			Category:    category,
			MaxProducts: budget - len(candidates),
			MinRating:   e.cfg.MinSupplierRating,
			MinOrders:   e.cfg.MinSupplierOrders,
		}
		batch, err := e.sourcer.Source(ctx, query)
		if err != nil {
			// Nothing sourced at all means the upstream is down.
			if i == 0 && len(candidates) == 0 {
				return fmt.Errorf("sourcing: %w", err)
			}
			run.RecordError("source", err, time.Now())
			run.Results.FailedCount++
			log.WithError(err).WithField("category", category).Warn("sourcing call failed")
			continue
		}
		candidates = append(candidates, batch...)
	}

	run.Results.ProductsSourced += len(candidates)
	log.WithField("sourced", len(candidates)).Info("sourcing stage done")

	if !publish {
		return nil
	}

	for _, candidate := range candidates {
		quote, err := e.pricing.PriceCandidate(candidate)
		if err != nil {
			run.RecordError("price", err, time.Now())
			run.Results.FailedCount++
			metrics.RecordStageItem("price", false)
			log.WithError(err).WithField("title", candidate.Title).Warn("pricing failed")
			continue
		}
		run.Results.ProductsPriced++
		metrics.RecordStageItem("price", true)

		p := product.Product{
			Title:  candidate.Title,
			Active: true,
			RunID:  run.RunID,
			Images: candidate.Images,
			Supplier: product.Supplier{
				Platform:    candidate.Platform,
				URL:         candidate.SourceURL,
				Rating:      candidate.Rating,
				TotalOrders: candidate.TotalOrders,
				LastChecked: time.Now().UTC(),
			},
		}
		pricingsvc.Apply(&p, quote)

		if e.enrich != nil {
			content, err := e.enrich.Enrich(ctx, p)
			if err != nil {
				run.RecordError("enrich", err, time.Now())
				run.Results.FailedCount++
				metrics.RecordStageItem("enrich", false)
				log.WithError(err).WithField("title", p.Title).Warn("enrichment failed; listing without copy")
			} else {
				p.Enriched = content
				run.Results.EnrichedCount++
				metrics.RecordStageItem("enrich", true)
			}
		}

		if e.publish != nil {
			externalID, err := e.publish.Publish(ctx, p)
			if err != nil {
				run.RecordError("publish", err, time.Now())
				run.Results.FailedCount++
				metrics.RecordStageItem("publish", false)
				log.WithError(err).WithField("title", p.Title).Warn("publish failed")
				continue
			}
			p.ExternalID = externalID
			p.PublishedAt = time.Now().UTC()
			metrics.RecordStageItem("publish", true)
		}

		if _, err := e.products.CreateProduct(ctx, p); err != nil {
			run.RecordError("persist", err, time.Now())
			run.Results.FailedCount++
			log.WithError(err).WithField("title", p.Title).Warn("persist product failed")
			continue
		}
		run.Results.ProductsListed++
	}

	log.WithField("listed", run.Results.ProductsListed).Info("publish stage done")
	return nil
}

// stageEnrich generates listing copy for products still missing it. Every
// failure is soft.
func (e *Executor) stageEnrich(ctx context.Context, run *domain.Run, log *logger.Logger) {
	if e.enrich == nil {
		log.Warn("no enricher configured; skipping enrichment stage")
		return
	}

	products, err := e.products.ListUnenrichedProducts(ctx, e.cfg.MaxProductsPerRun)
	if err != nil {
		run.RecordError("enrich", err, time.Now())
		run.Results.FailedCount++
		log.WithError(err).Warn("list unenriched failed")
		return
	}

	for _, p := range products {
		content, err := e.enrich.Enrich(ctx, p)
		if err != nil {
			run.RecordError("enrich", err, time.Now())
			run.Results.FailedCount++
			metrics.RecordStageItem("enrich", false)
			log.WithError(err).WithField("product_id", p.ID).Warn("enrichment failed")
			continue
		}
		p.Enriched = content
		if _, err := e.products.UpdateProduct(ctx, p); err != nil {
			run.RecordError("enrich", err, time.Now())
			run.Results.FailedCount++
			metrics.RecordStageItem("enrich", false)
			log.WithError(err).WithField("product_id", p.ID).Warn("persist enrichment failed")
			continue
		}
		run.Results.EnrichedCount++
		metrics.RecordStageItem("enrich", true)
	}

	log.WithField("enriched", run.Results.EnrichedCount).Info("enrichment stage done")
}

// competitorDriftThreshold is the relative gap between our price and an
// observed competitor price that warrants an operator alert.
const competitorDriftThreshold = 0.25

// stageCompetitorScan samples market prices, raises an alert on large
// drift and delegates the adjustments to the pricing service.
func (e *Executor) stageCompetitorScan(ctx context.Context, run *domain.Run, log *logger.Logger) error {
	if e.scanner == nil {
		log.Warn("no competitor scanner configured; skipping scan stage")
		return nil
	}

	products, err := e.products.ListActiveProducts(ctx)
	if err != nil {
		return fmt.Errorf("list active products: %w", err)
	}

	observed, err := e.scanner.Scan(ctx, products)
	if err != nil {
		return fmt.Errorf("competitor scan: %w", err)
	}

	e.alertOnDrift(ctx, log, products, observed)

	adjusted, err := e.pricing.AdjustForCompetitors(ctx, observed)
	if err != nil {
		return fmt.Errorf("competitor adjust: %w", err)
	}
	run.Results.PricesAdjusted += adjusted
	log.WithField("observed", len(observed)).
		WithField("adjusted", adjusted).
		Info("competitor scan done")
	return nil
}

// alertOnDrift notifies the sink when an observed competitor price sits
// more than the drift threshold away from ours.
func (e *Executor) alertOnDrift(ctx context.Context, log *logger.Logger, products []product.Product, observed []connector.CompetitorPrice) {
	if e.alerts == nil {
		return
	}

	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	fields := map[string]string{}
	drifted := 0
	for _, obs := range observed {
		p, ok := byID[obs.ProductID]
		if !ok || p.SellPriceAUD <= 0 || obs.PriceAUD <= 0 {
			continue
		}
		drift := (obs.PriceAUD - p.SellPriceAUD) / p.SellPriceAUD
		if math.Abs(drift) < competitorDriftThreshold {
			continue
		}
		drifted++
		if len(fields) < 5 {
			fields[p.Title] = fmt.Sprintf("ours %.2f, theirs %.2f (%+.0f%%)", p.SellPriceAUD, obs.PriceAUD, drift*100)
		}
	}
	if drifted == 0 {
		return
	}

	fields["count"] = strconv.Itoa(drifted)
	alert := connector.Alert{
		Severity: "warning",
		Title:    "Competitor price drift",
		Message:  fmt.Sprintf("%d products drifted more than %.0f%% from observed market prices", drifted, competitorDriftThreshold*100),
		Fields:   fields,
	}
	if err := e.alerts.Notify(ctx, alert); err != nil {
		log.WithError(err).Warn("drift alert delivery failed")
	}
	log.WithField("drifted", drifted).Warn("competitor price drift detected")
}

// stageSync mirrors the active catalog into the operations base. A sync
// failure is soft.
func (e *Executor) stageSync(ctx context.Context, run *domain.Run, log *logger.Logger) {
	if e.syncer == nil {
		log.Warn("no catalog syncer configured; skipping sync stage")
		return
	}

	products, err := e.products.ListActiveProducts(ctx)
	if err != nil {
		run.RecordError("sync", err, time.Now())
		run.Results.FailedCount++
		log.WithError(err).Warn("list products for sync failed")
		return
	}

	synced, err := e.syncer.Sync(ctx, products)
	if err != nil {
		run.RecordError("sync", err, time.Now())
		run.Results.FailedCount++
		log.WithError(err).Warn("catalog sync failed")
		return
	}
	run.Results.ProductsSynced += synced
	log.WithField("synced", synced).Info("sync stage done")
}
