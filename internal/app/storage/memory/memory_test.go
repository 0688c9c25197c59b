package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xeriaco/sourcing_engine/internal/app/domain/analytics"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/order"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
	"github.com/xeriaco/sourcing_engine/internal/app/storage"
)

func TestRunLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	run, err := store.CreateRun(ctx, pipeline.Run{Type: pipeline.TypeFull, Status: pipeline.StatusQueued, TriggeredBy: pipeline.TriggerManual})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.RunID == "" {
		t.Fatal("expected generated run id")
	}

	active, err := store.FindActiveRun(ctx)
	if err != nil {
		t.Fatalf("find active run: %v", err)
	}
	if active.RunID != run.RunID {
		t.Fatalf("active run = %s, want %s", active.RunID, run.RunID)
	}

	if err := run.Transition(pipeline.StatusRunning, time.Now()); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := run.Transition(pipeline.StatusCompleted, time.Now()); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	if _, err := store.FindActiveRun(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after completion, got %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != pipeline.StatusCompleted {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, _ := store.CreateRun(ctx, pipeline.Run{Type: pipeline.TypeFull, Status: pipeline.StatusCompleted})
	second, _ := store.CreateRun(ctx, pipeline.Run{Type: pipeline.TypeAIEnrich, Status: pipeline.StatusQueued})

	runs, err := store.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != second.RunID {
		t.Fatalf("expected newest run %s first, got %+v", second.RunID, runs)
	}
	_ = first
}

func TestProductFilters(t *testing.T) {
	store := New()
	ctx := context.Background()

	enriched, err := store.CreateProduct(ctx, product.Product{
		Title:    "LED Dog Collar",
		Active:   true,
		Enriched: product.EnrichedContent{Description: "done"},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	bare, err := store.CreateProduct(ctx, product.Product{Title: "Car Phone Mount", Active: true})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := store.CreateProduct(ctx, product.Product{Title: "Retired", Active: false}); err != nil {
		t.Fatalf("create product: %v", err)
	}
	low, err := store.CreateProduct(ctx, product.Product{
		Title:     "Mini Projector",
		Active:    true,
		Enriched:  product.EnrichedContent{Description: "done"},
		Inventory: product.Inventory{Tracked: true, Quantity: 2, LowStockThreshold: 5},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	actives, _ := store.ListActiveProducts(ctx)
	if len(actives) != 3 {
		t.Fatalf("active products = %d, want 3", len(actives))
	}

	unenriched, _ := store.ListUnenrichedProducts(ctx, 10)
	if len(unenriched) != 1 || unenriched[0].ID != bare.ID {
		t.Fatalf("unexpected unenriched set: %+v", unenriched)
	}

	lows, _ := store.ListLowStockProducts(ctx)
	if len(lows) != 1 || lows[0].ID != low.ID {
		t.Fatalf("unexpected low stock set: %+v", lows)
	}
	_ = enriched
}

func TestGetProductByExternalID(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateProduct(ctx, product.Product{Title: "LED Dog Collar", ExternalID: "sf-42"})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if _, err := store.CreateProduct(ctx, product.Product{Title: "Unlisted"}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	got, err := store.GetProductByExternalID(ctx, "sf-42")
	if err != nil {
		t.Fatalf("get by external id: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("id = %s, want %s", got.ID, created.ID)
	}

	// An empty external id never matches unlisted products.
	if _, err := store.GetProductByExternalID(ctx, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProductCloneIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	p, err := store.CreateProduct(ctx, product.Product{
		Title:  "Gadget",
		Active: true,
		Images: []product.Image{{SRC: "https://img/1.jpg", Position: 1}},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	p.Images[0].SRC = "mutated"
	stored, err := store.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if stored.Images[0].SRC != "https://img/1.jpg" {
		t.Fatal("store returned aliased slice")
	}
}

func TestOrderQueries(t *testing.T) {
	store := New()
	ctx := context.Background()

	old := time.Now().UTC().Add(-72 * time.Hour)
	if _, err := store.CreateOrder(ctx, order.Order{Status: order.StatusPending, PlacedAt: old, TotalAUD: 39.95}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	recent, err := store.CreateOrder(ctx, order.Order{Status: order.StatusPending, PlacedAt: time.Now().UTC(), TotalAUD: 24.95})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	pendings, _ := store.ListOrdersByStatus(ctx, order.StatusPending)
	if len(pendings) != 2 {
		t.Fatalf("pending orders = %d, want 2", len(pendings))
	}

	since, _ := store.ListOrdersSince(ctx, time.Now().UTC().Add(-time.Hour))
	if len(since) != 1 || since[0].ID != recent.ID {
		t.Fatalf("unexpected recent orders: %+v", since)
	}
}

func TestSnapshotUpsertReplacesSameDay(t *testing.T) {
	store := New()
	ctx := context.Background()
	day := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	first, err := store.UpsertSnapshot(ctx, analytics.Snapshot{Date: day, ActiveProducts: 10})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := store.UpsertSnapshot(ctx, analytics.Snapshot{Date: day.Add(5 * time.Hour), ActiveProducts: 12})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same-day upsert allocated new id: %s vs %s", second.ID, first.ID)
	}

	got, err := store.GetSnapshot(ctx, day)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if got.ActiveProducts != 12 {
		t.Fatalf("ActiveProducts = %d, want 12", got.ActiveProducts)
	}

	snaps, _ := store.ListSnapshots(ctx, 0)
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
}
