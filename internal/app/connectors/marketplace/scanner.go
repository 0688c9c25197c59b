package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
	"github.com/xeriaco/sourcing_engine/internal/app/metrics"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

const scannerName = "competitor-scan"

var _ connector.CompetitorScanner = (*Scanner)(nil)

// Scanner samples competitor prices for listed products, one lookup per
// product, spaced like sourcing calls.
type Scanner struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	limiter  *rate.Limiter
	log      *logger.Logger
}

// NewScanner constructs a competitor price scanner.
func NewScanner(client *http.Client, endpoint, apiKey string, delay time.Duration, log *logger.Logger) (*Scanner, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("scanner endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse scanner endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if delay <= 0 {
		delay = 2500 * time.Millisecond
	}
	if log == nil {
		log = logger.NewDefault("competitor-scanner")
	}
	return &Scanner{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		limiter:  rate.NewLimiter(rate.Every(delay), 1),
		log:      log,
	}, nil
}

// Scan looks up the cheapest observed market price per product. Products
// whose lookup fails are skipped; a dead upstream aborts the scan.
func (s *Scanner) Scan(ctx context.Context, products []product.Product) ([]connector.CompetitorPrice, error) {
	var observed []connector.CompetitorPrice
	failures := 0

	for _, p := range products {
		if err := s.limiter.Wait(ctx); err != nil {
			return observed, &connector.NetworkError{Connector: scannerName, Err: err}
		}

		price, seller, err := s.lookup(ctx, p.Title)
		metrics.RecordConnectorCall(scannerName, err)
		if err != nil {
			failures++
			s.log.WithError(err).WithField("product_id", p.ID).Warn("competitor lookup failed")
			// All lookups failing means the upstream is down, not noisy.
			if failures == len(products) {
				return nil, fmt.Errorf("competitor scan: every lookup failed: %w", err)
			}
			continue
		}
		if price <= 0 {
			continue
		}
		observed = append(observed, connector.CompetitorPrice{
			ProductID: p.ID,
			PriceAUD:  price,
			Seller:    seller,
		})
	}
	return observed, nil
}

func (s *Scanner) lookup(ctx context.Context, title string) (float64, string, error) {
	requestURL := *s.endpoint
	q := requestURL.Query()
	q.Set("query", title)
	requestURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return 0, "", fmt.Errorf("build scanner request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", &connector.NetworkError{Connector: scannerName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, "", nil
	}
	if resp.StatusCode >= 300 {
		return 0, "", &connector.UpstreamError{Connector: scannerName, StatusCode: resp.StatusCode}
	}

	var payload struct {
		PriceAUD float64 `json:"price_aud"`
		Seller   string  `json:"seller"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, "", fmt.Errorf("decode scanner response: %w", err)
	}
	return payload.PriceAUD, payload.Seller, nil
}
