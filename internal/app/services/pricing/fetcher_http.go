package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

// RateFetcher retrieves the current USD to AUD exchange rate.
type RateFetcher interface {
	FetchRate(ctx context.Context) (float64, string, error)
}

// RateFetcherFunc adapts a function to the RateFetcher interface.
type RateFetcherFunc func(ctx context.Context) (float64, string, error)

func (f RateFetcherFunc) FetchRate(ctx context.Context) (float64, string, error) {
	if f == nil {
		return 0, "", nil
	}
	return f(ctx)
}

// HTTPRateFetcher queries an HTTP exchange rate endpoint.
type HTTPRateFetcher struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPRateFetcher constructs a fetcher using the provided endpoint.
func NewHTTPRateFetcher(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPRateFetcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("rate endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse rate endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("rate-fetcher")
	}
	return &HTTPRateFetcher{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (f *HTTPRateFetcher) FetchRate(ctx context.Context) (float64, string, error) {
	requestURL := *f.endpoint
	q := requestURL.Query()
	q.Set("base", "USD")
	q.Set("quote", "AUD")
	requestURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return 0, "", fmt.Errorf("build rate request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("rate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("rate endpoint status %d", resp.StatusCode)
	}

	var payload struct {
		Rate   float64 `json:"rate"`
		Source string  `json:"source"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, "", fmt.Errorf("decode rate response: %w", err)
	}
	if payload.Source == "" {
		payload.Source = f.endpoint.Host
	}
	return payload.Rate, payload.Source, nil
}
