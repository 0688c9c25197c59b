package storefront

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
)

func newTestPublisher(t *testing.T, server *httptest.Server) *Publisher {
	t.Helper()
	p, err := New(server.Client(), server.URL, "key", nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	p.backoff = time.Millisecond
	return p
}

func TestPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/products" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Fatalf("expected auth header, got %q", got)
		}
		w.Write([]byte(`{"id": "sf-123"}`))
	}))
	defer server.Close()

	publisher := newTestPublisher(t, server)
	id, err := publisher.Publish(context.Background(), product.Product{Title: "LED Dog Collar", SellPriceAUD: 14.95})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id != "sf-123" {
		t.Fatalf("id = %q, want sf-123", id)
	}
}

func TestPublishRetriesTransient(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id": "sf-9"}`))
	}))
	defer server.Close()

	publisher := newTestPublisher(t, server)
	id, err := publisher.Publish(context.Background(), product.Product{Title: "Gadget"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id != "sf-9" || calls != 3 {
		t.Fatalf("id=%q calls=%d, want sf-9 after 3 attempts", id, calls)
	}
}

func TestPublishGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	publisher := newTestPublisher(t, server)
	_, err := publisher.Publish(context.Background(), product.Product{Title: "Gadget"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != maxAttempts {
		t.Fatalf("calls = %d, want %d", calls, maxAttempts)
	}
}

func TestPublishPermanentFailureNoRetry(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	publisher := newTestPublisher(t, server)
	_, err := publisher.Publish(context.Background(), product.Product{Title: "Gadget"})
	var ue *connector.UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("got %v, want UpstreamError 422", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on permanent failure)", calls)
	}
}

func TestUpdatePrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/products/sf-123/price" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	publisher := newTestPublisher(t, server)
	if err := publisher.UpdatePrice(context.Background(), "sf-123", 15.95, 20.74); err != nil {
		t.Fatalf("update price: %v", err)
	}
	if err := publisher.UpdatePrice(context.Background(), "", 1, 1); err == nil {
		t.Fatal("expected error for empty external id")
	}
}
