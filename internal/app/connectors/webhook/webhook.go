// Package webhook delivers alerts and catalog syncs over plain HTTP
// webhooks. Both directions post JSON and treat any 2xx as accepted.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
	"github.com/xeriaco/sourcing_engine/internal/app/metrics"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

var _ connector.AlertSink = (*AlertSink)(nil)

// AlertSink posts operational alerts to a webhook URL.
type AlertSink struct {
	client   *http.Client
	endpoint *url.URL
	log      *logger.Logger
}

// NewAlertSink constructs an alert sink.
func NewAlertSink(client *http.Client, endpoint string, log *logger.Logger) (*AlertSink, error) {
	parsed, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("alert-webhook")
	}
	return &AlertSink{client: client, endpoint: parsed, log: log}, nil
}

// Notify posts one alert. Delivery failures are the caller's problem to
// log; alerts are never retried.
func (s *AlertSink) Notify(ctx context.Context, alert connector.Alert) error {
	body, err := json.Marshal(map[string]any{
		"severity": alert.Severity,
		"title":    alert.Title,
		"message":  alert.Message,
		"fields":   alert.Fields,
		"sent_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	err = post(ctx, s.client, s.endpoint.String(), "alert-webhook", body)
	metrics.RecordConnectorCall("alert-webhook", err)
	return err
}

var _ connector.CatalogSyncer = (*CatalogSyncer)(nil)

// CatalogSyncer mirrors the catalog to an external operations base through
// its inbound webhook.
type CatalogSyncer struct {
	client    *http.Client
	endpoint  *url.URL
	batchSize int
	log       *logger.Logger
}

// NewCatalogSyncer constructs a catalog syncer posting batches of records.
func NewCatalogSyncer(client *http.Client, endpoint string, log *logger.Logger) (*CatalogSyncer, error) {
	parsed, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("catalog-sync")
	}
	return &CatalogSyncer{client: client, endpoint: parsed, batchSize: 10, log: log}, nil
}

type syncRecord struct {
	ID           string  `json:"id"`
	ExternalID   string  `json:"external_id,omitempty"`
	Title        string  `json:"title"`
	SellPriceAUD float64 `json:"sell_price_aud"`
	ProfitAUD    float64 `json:"profit_aud"`
	MarginPct    float64 `json:"margin_pct"`
	Supplier     string  `json:"supplier_url,omitempty"`
	Active       bool    `json:"active"`
}

// Sync posts the catalog in batches and returns how many records were
// accepted. A failed batch stops the sync; earlier batches stay counted.
func (s *CatalogSyncer) Sync(ctx context.Context, products []product.Product) (int, error) {
	synced := 0
	for start := 0; start < len(products); start += s.batchSize {
		end := start + s.batchSize
		if end > len(products) {
			end = len(products)
		}

		records := make([]syncRecord, 0, end-start)
		for _, p := range products[start:end] {
			records = append(records, syncRecord{
				ID:           p.ID,
				ExternalID:   p.ExternalID,
				Title:        p.Title,
				SellPriceAUD: p.SellPriceAUD,
				ProfitAUD:    p.ProfitAUD,
				MarginPct:    p.ProfitMarginPercent,
				Supplier:     p.Supplier.URL,
				Active:       p.Active,
			})
		}
		body, err := json.Marshal(map[string]any{"records": records})
		if err != nil {
			return synced, fmt.Errorf("encode sync batch: %w", err)
		}

		err = post(ctx, s.client, s.endpoint.String(), "catalog-sync", body)
		metrics.RecordConnectorCall("catalog-sync", err)
		if err != nil {
			return synced, fmt.Errorf("sync batch at offset %d: %w", start, err)
		}
		synced += len(records)
	}

	s.log.WithField("synced", synced).Info("catalog sync complete")
	return synced, nil
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("webhook endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse webhook endpoint: %w", err)
	}
	return parsed, nil
}

func post(ctx context.Context, client *http.Client, target, name string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &connector.NetworkError{Connector: name, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return &connector.RateLimitedError{Connector: name}
	}
	if resp.StatusCode >= 300 {
		return &connector.UpstreamError{Connector: name, StatusCode: resp.StatusCode}
	}
	return nil
}
