// Package storefront publishes listings to the storefront API. Transient
// failures are retried a bounded number of times before the item is given
// up on.
package storefront

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

const (
	connectorName = "storefront"
	maxAttempts   = 3
)

var _ connector.Publisher = (*Publisher)(nil)

// Publisher creates and updates storefront listings.
type Publisher struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	backoff  time.Duration
	log      *logger.Logger
}

// New constructs a storefront publisher.
func New(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*Publisher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("storefront endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse storefront endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("storefront")
	}
	return &Publisher{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		backoff:  time.Second,
		log:      log,
	}, nil
}

type listingPayload struct {
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	DescriptionHTML string   `json:"description_html,omitempty"`
	PriceAUD        float64  `json:"price_aud"`
	CompareAtAUD    float64  `json:"compare_at_aud,omitempty"`
	FreeShipping    bool     `json:"free_shipping"`
	Tags            []string `json:"tags,omitempty"`
	Images          []string `json:"images,omitempty"`
}

// Publish creates a listing and returns the storefront's identifier.
func (p *Publisher) Publish(ctx context.Context, prod product.Product) (string, error) {
	payload := listingPayload{
		Title:           prod.Title,
		Description:     prod.Enriched.Description,
		DescriptionHTML: prod.Enriched.DescriptionHTML,
		PriceAUD:        prod.SellPriceAUD,
		CompareAtAUD:    prod.CompareAtAUD,
		FreeShipping:    prod.FreeShipping,
		Tags:            prod.Enriched.Tags,
	}
	for _, img := range prod.Images {
		payload.Images = append(payload.Images, img.SRC)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode listing: %w", err)
	}

	var externalID string
	err = p.withRetry(ctx, "publish", func() error {
		resp, err := p.do(ctx, http.MethodPost, p.endpoint.JoinPath("products").String(), body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := statusError(resp); err != nil {
			return err
		}
		var result struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decode publish response: %w", err)
		}
		if result.ID == "" {
			return fmt.Errorf("publish response missing listing id")
		}
		externalID = result.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	p.log.WithField("external_id", externalID).
		WithField("title", prod.Title).
		Info("listing published")
	return externalID, nil
}

// UpdatePrice pushes a new price to an existing listing.
func (p *Publisher) UpdatePrice(ctx context.Context, externalID string, priceAUD, compareAtAUD float64) error {
	if externalID == "" {
		return fmt.Errorf("external id required")
	}
	body, err := json.Marshal(map[string]float64{
		"price_aud":      priceAUD,
		"compare_at_aud": compareAtAUD,
	})
	if err != nil {
		return fmt.Errorf("encode price update: %w", err)
	}

	return p.withRetry(ctx, "update-price", func() error {
		resp, err := p.do(ctx, http.MethodPut, p.endpoint.JoinPath("products", externalID, "price").String(), body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		return statusError(resp)
	})
}

func (p *Publisher) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build storefront request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &connector.NetworkError{Connector: connectorName, Err: err}
	}
	return resp, nil
}

// withRetry retries transient failures with linear backoff. Permanent
// failures return immediately.
func (p *Publisher) withRetry(ctx context.Context, op string, call func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = call()
		metrics.RecordConnectorCall(connectorName, lastErr)
		if lastErr == nil {
			return nil
		}
		if !connector.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		p.log.WithError(lastErr).
			WithField("op", op).
			WithField("attempt", attempt).
			Warn("storefront call failed; retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * p.backoff):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, maxAttempts, lastErr)
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &connector.RateLimitedError{Connector: connectorName}
	case resp.StatusCode >= 300:
		return &connector.UpstreamError{Connector: connectorName, StatusCode: resp.StatusCode}
	}
	return nil
}
