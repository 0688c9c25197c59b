package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
)

func TestNotify(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewAlertSink(server.Client(), server.URL, nil)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	alert := connector.Alert{
		Severity: "error",
		Title:    "Pipeline run failed",
		Message:  "marketplace down",
		Fields:   map[string]string{"run_id": "r-1"},
	}
	if err := sink.Notify(context.Background(), alert); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received["title"] != "Pipeline run failed" || received["severity"] != "error" {
		t.Fatalf("unexpected payload: %+v", received)
	}
}

func TestNotifyUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink, err := NewAlertSink(server.Client(), server.URL, nil)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.Notify(context.Background(), connector.Alert{Title: "x"}); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestSyncBatches(t *testing.T) {
	var batches [][]syncRecord
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Records []syncRecord `json:"records"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		batches = append(batches, payload.Records)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	syncer, err := NewCatalogSyncer(server.Client(), server.URL, nil)
	if err != nil {
		t.Fatalf("new syncer: %v", err)
	}

	products := make([]product.Product, 25)
	for i := range products {
		products[i] = product.Product{ID: fmt.Sprintf("p-%d", i), Title: fmt.Sprintf("Product %d", i), Active: true}
	}

	synced, err := syncer.Sync(context.Background(), products)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if synced != 25 {
		t.Fatalf("synced = %d, want 25", synced)
	}
	if len(batches) != 3 || len(batches[0]) != 10 || len(batches[2]) != 5 {
		t.Fatalf("unexpected batching: %d batches", len(batches))
	}
}

func TestSyncStopsOnFailedBatch(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	syncer, err := NewCatalogSyncer(server.Client(), server.URL, nil)
	if err != nil {
		t.Fatalf("new syncer: %v", err)
	}

	products := make([]product.Product, 25)
	for i := range products {
		products[i] = product.Product{ID: fmt.Sprintf("p-%d", i)}
	}

	synced, err := syncer.Sync(context.Background(), products)
	if err == nil {
		t.Fatal("expected error from failed batch")
	}
	if synced != 10 {
		t.Fatalf("synced = %d, want 10 (first batch only)", synced)
	}
}
