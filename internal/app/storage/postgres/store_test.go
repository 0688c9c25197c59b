package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/xeriaco/sourcing_engine/internal/app/domain/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	run, err := store.CreateRun(ctx, pipeline.Run{Type: pipeline.TypeFull, Status: pipeline.StatusQueued, TriggeredBy: pipeline.TriggerManual})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := run.Transition(pipeline.StatusRunning, time.Now()); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	active, err := store.FindActiveRun(ctx)
	if err != nil {
		t.Fatalf("find active run: %v", err)
	}
	if active.RunID != run.RunID {
		t.Fatalf("active run = %s, want %s", active.RunID, run.RunID)
	}

	p, err := store.CreateProduct(ctx, product.Product{
		Title:        "LED Dog Collar",
		SellPriceAUD: 14.95,
		Active:       true,
		RunID:        run.RunID,
		Images:       []product.Image{{SRC: "https://img/1.jpg", Position: 1}},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	got, err := store.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if len(got.Images) != 1 || got.SellPriceAUD != 14.95 {
		t.Fatalf("unexpected product round trip: %+v", got)
	}
}
