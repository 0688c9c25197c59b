package marketplace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
)

func TestSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("category") != "pet-supplies" {
			t.Fatalf("unexpected category: %s", r.URL.RawQuery)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Fatalf("expected auth header, got %q", got)
		}
		w.Write([]byte(`{"products": [
			{"title": "LED Dog Collar", "cost_usd": 4.0, "url": "https://supplier/1", "rating": 4.8, "total_orders": 900, "images": [{"src": "https://img/1.jpg"}]},
			{"title": "Low Rated", "cost_usd": 2.0, "url": "https://supplier/2", "rating": 3.1, "total_orders": 5000},
			{"title": "", "cost_usd": 9.0, "url": "https://supplier/3", "rating": 4.9, "total_orders": 800}
		]}`))
	}))
	defer server.Close()

	sourcer, err := New(server.Client(), server.URL, "key", time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new sourcer: %v", err)
	}

	candidates, err := sourcer.Source(context.Background(), connector.SourceQuery{
		Category:    "pet-supplies",
		MaxProducts: 10,
		MinRating:   4.5,
		MinOrders:   100,
	})
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1 (filters applied)", len(candidates))
	}
	got := candidates[0]
	if got.Title != "LED Dog Collar" || got.CostUSD != 4.0 {
		t.Fatalf("unexpected candidate: %+v", got)
	}
	if len(got.Images) != 1 || got.Images[0].Position != 1 {
		t.Fatalf("image positions not assigned: %+v", got.Images)
	}
}

func TestSourceRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	sourcer, err := New(server.Client(), server.URL, "", time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new sourcer: %v", err)
	}

	_, err = sourcer.Source(context.Background(), connector.SourceQuery{MaxProducts: 10})
	var rl *connector.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("got %v, want RateLimitedError", err)
	}
	if rl.RetryAfter != 30*time.Second {
		t.Fatalf("RetryAfter = %s, want 30s", rl.RetryAfter)
	}
	if !connector.IsTransient(err) {
		t.Fatal("rate limit must be transient")
	}
}

func TestSourceUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	sourcer, err := New(server.Client(), server.URL, "", time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new sourcer: %v", err)
	}

	_, err = sourcer.Source(context.Background(), connector.SourceQuery{})
	var ue *connector.UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusForbidden {
		t.Fatalf("got %v, want UpstreamError 403", err)
	}
	if connector.IsTransient(err) {
		t.Fatal("403 must not be transient")
	}
}

func TestSourceSpacesCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"products": []}`))
	}))
	defer server.Close()

	delay := 50 * time.Millisecond
	sourcer, err := New(server.Client(), server.URL, "", delay, nil)
	if err != nil {
		t.Fatalf("new sourcer: %v", err)
	}

	ctx := context.Background()
	if _, err := sourcer.Source(ctx, connector.SourceQuery{}); err != nil {
		t.Fatalf("source: %v", err)
	}
	start := time.Now()
	if _, err := sourcer.Source(ctx, connector.SourceQuery{}); err != nil {
		t.Fatalf("source: %v", err)
	}
	if elapsed := time.Since(start); elapsed < delay/2 {
		t.Fatalf("second call after %s; calls not spaced", elapsed)
	}
}
