package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	app "github.com/xeriaco/sourcing_engine/internal/app"
	pipelinedomain "github.com/xeriaco/sourcing_engine/internal/app/domain/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
	pricingsvc "github.com/xeriaco/sourcing_engine/internal/app/services/pricing"
	"github.com/xeriaco/sourcing_engine/internal/app/storage/memory"
	"github.com/xeriaco/sourcing_engine/internal/config"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store, *app.Application) {
	t.Helper()

	store := memory.New()
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{MaxProductsPerRun: 10},
		Pricing: config.PricingConfig{
			MinProfitAUD:             8,
			USDToAUDRate:             1.55,
			FreeShippingThresholdAUD: 80,
		},
	}
	application, err := app.New(context.Background(), cfg, app.Stores{
		Runs:      store,
		Products:  store,
		Orders:    store,
		Analytics: store,
	}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	server := httptest.NewServer(NewHandler(application))
	t.Cleanup(server.Close)
	return server, store, application
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	server, _, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTriggerRun(t *testing.T) {
	server, _, application := newTestServer(t)

	resp := postJSON(t, server.URL+"/pipeline/runs", map[string]string{"run_type": "full"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var run pipelinedomain.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.RunID == "" || run.TriggeredBy != pipelinedomain.TriggerAPI {
		t.Fatalf("unexpected run: %+v", run)
	}

	waitTerminal(t, application, run.RunID)
}

func TestTriggerRejectsInvalidType(t *testing.T) {
	server, _, _ := newTestServer(t)
	resp := postJSON(t, server.URL+"/pipeline/runs", map[string]string{"run_type": "bogus"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTriggerConflictsWithActiveRun(t *testing.T) {
	server, store, _ := newTestServer(t)

	_, err := store.CreateRun(context.Background(), pipelinedomain.Run{
		Type:      pipelinedomain.TypeFull,
		Status:    pipelinedomain.StatusRunning,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}

	resp := postJSON(t, server.URL+"/pipeline/runs", map[string]string{"run_type": "full"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestPipelineStatus(t *testing.T) {
	server, store, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/pipeline/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 with no runs", resp.StatusCode)
	}

	seeded, err := store.CreateRun(context.Background(), pipelinedomain.Run{
		Type:      pipelinedomain.TypeFull,
		Status:    pipelinedomain.StatusRunning,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}

	resp, err = http.Get(server.URL + "/pipeline/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var run pipelinedomain.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.RunID != seeded.RunID {
		t.Fatalf("run id = %s, want %s", run.RunID, seeded.RunID)
	}
}

func TestGetRunNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)
	resp, err := http.Get(server.URL + "/pipeline/runs/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListProducts(t *testing.T) {
	server, store, _ := newTestServer(t)

	for _, p := range []product.Product{
		{Title: "LED Dog Collar", Active: true},
		{Title: "Retired Widget", Active: false},
	} {
		if _, err := store.CreateProduct(context.Background(), p); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}

	resp, err := http.Get(server.URL + "/products")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var products []product.Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(products) != 1 || products[0].Title != "LED Dog Collar" {
		t.Fatalf("products = %+v", products)
	}
}

func TestPricingConfig(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/pricing/config")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var payload struct {
		MarkupTiers []struct {
			MaxCostUSD    *float64 `json:"max_cost_usd"`
			MarkupPercent float64  `json:"markup_percent"`
		} `json:"markup_tiers"`
		Rate float64 `json:"usd_to_aud_rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Rate != 1.55 {
		t.Fatalf("rate = %.2f", payload.Rate)
	}
	if len(payload.MarkupTiers) != 5 {
		t.Fatalf("tiers = %d", len(payload.MarkupTiers))
	}
	if last := payload.MarkupTiers[4]; last.MaxCostUSD != nil || last.MarkupPercent != 35 {
		t.Fatalf("tail tier = %+v", last)
	}
}

func TestListSnapshots(t *testing.T) {
	server, _, application := newTestServer(t)

	if _, err := application.Analytics.Snapshot(context.Background(), time.Now()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	resp, err := http.Get(server.URL + "/analytics/snapshots")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snapshots []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snapshots))
	}
}

func TestPriceQuote(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/pricing/quote", map[string]float64{"cost_usd": 4.00})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var quote struct {
		SellPriceAUD float64 `json:"sell_price_aud"`
		ProfitAUD    float64 `json:"profit_aud"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if quote.SellPriceAUD != 14.95 {
		t.Fatalf("sell price = %.2f, want 14.95", quote.SellPriceAUD)
	}
}

func TestPriceQuoteRejectsNegativeCost(t *testing.T) {
	server, _, _ := newTestServer(t)
	resp := postJSON(t, server.URL+"/pricing/quote", map[string]float64{"cost_usd": -1})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRepriceAll(t *testing.T) {
	server, store, application := newTestServer(t)

	quote, err := application.Pricing.PriceCandidate(product.Candidate{CostUSD: 4.00})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	p := product.Product{Title: "LED Dog Collar", Active: true}
	pricingsvc.Apply(&p, quote)
	if _, err := store.CreateProduct(context.Background(), p); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	// Move the rate so the stored price is stale.
	if err := application.Pricing.UpdateRate(1.80, "test"); err != nil {
		t.Fatalf("update rate: %v", err)
	}

	resp := postJSON(t, server.URL+"/pricing/reprice", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["adjusted"] != 1 {
		t.Fatalf("adjusted = %d, want 1", payload["adjusted"])
	}
}

func waitTerminal(t *testing.T, application *app.Application, runID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := application.Pipeline.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		if run.Status.Terminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal status")
}
