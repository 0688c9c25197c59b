package app

import (
	"context"
	"testing"
	"time"

	pipelinedomain "github.com/xeriaco/sourcing_engine/internal/app/domain/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{Addr: ":0"},
		Pipeline: config.PipelineConfig{
			MaxProductsPerRun: 10,
			MinSupplierRating: 4.5,
			MinSupplierOrders: 100,
		},
		Pricing: config.PricingConfig{
			MinProfitAUD:             8,
			USDToAUDRate:             1.55,
			FreeShippingThresholdAUD: 80,
		},
	}
}

func TestNewWiresServices(t *testing.T) {
	application, err := New(context.Background(), testConfig(), Stores{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if application.Pipeline == nil || application.Pricing == nil ||
		application.Analytics == nil || application.Anomaly == nil ||
		application.Scheduler == nil {
		t.Fatal("service not wired")
	}

	cfg := application.Pricing.ConfigSnapshot()
	if cfg.USDToAUDRate != 1.55 {
		t.Fatalf("rate = %.2f, want 1.55", cfg.USDToAUDRate)
	}
	if len(cfg.MarkupTiers) != 5 {
		t.Fatalf("tiers = %d, want default table", len(cfg.MarkupTiers))
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(context.Background(), nil, Stores{}, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

// A run triggered with no connectors configured still reaches a terminal
// status; the stages skip rather than block.
func TestRunCompletesWithoutConnectors(t *testing.T) {
	application, err := New(context.Background(), testConfig(), Stores{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer application.Stop(ctx)

	run, err := application.Pipeline.Trigger(ctx, pipelinedomain.TypeFull, pipelinedomain.TriggerManual)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := application.Pipeline.GetRun(ctx, run.RunID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		if got.Status.Terminal() {
			if got.Status != pipelinedomain.StatusCompleted {
				t.Fatalf("status = %s, want completed", got.Status)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal status")
}
