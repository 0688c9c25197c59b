// Package marketplace sources product candidates from a supplier
// marketplace API. Calls are rate limited and spaced to stay under the
// supplier's scraping radar.
package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
	"github.com/xeriaco/sourcing_engine/internal/app/metrics"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

const connectorName = "marketplace"

var _ connector.Sourcer = (*Sourcer)(nil)

// Sourcer queries the marketplace search endpoint.
type Sourcer struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	limiter  *rate.Limiter
	delay    time.Duration
	log      *logger.Logger
}

// New constructs a marketplace sourcer. delay spaces consecutive calls in
// addition to the limiter's sustained rate.
func New(client *http.Client, endpoint, apiKey string, delay time.Duration, log *logger.Logger) (*Sourcer, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("marketplace endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse marketplace endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if delay <= 0 {
		delay = 2500 * time.Millisecond
	}
	if log == nil {
		log = logger.NewDefault("marketplace")
	}
	return &Sourcer{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		limiter:  rate.NewLimiter(rate.Every(delay), 1),
		delay:    delay,
		log:      log,
	}, nil
}

type candidatePayload struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	CostUSD     float64 `json:"cost_usd"`
	ShippingUSD float64 `json:"shipping_usd"`
	URL         string  `json:"url"`
	Platform    string  `json:"platform"`
	Rating      float64 `json:"rating"`
	TotalOrders int     `json:"total_orders"`
	Images      []struct {
		SRC string `json:"src"`
		Alt string `json:"alt"`
	} `json:"images"`
}

// Source queries one category page and converts the results. Candidates
// below the query's rating or order thresholds are dropped client side.
func (s *Sourcer) Source(ctx context.Context, query connector.SourceQuery) ([]product.Candidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &connector.NetworkError{Connector: connectorName, Err: err}
	}

	requestURL := *s.endpoint
	q := requestURL.Query()
	if query.Category != "" {
		q.Set("category", query.Category)
	}
	if query.MaxProducts > 0 {
		q.Set("limit", strconv.Itoa(query.MaxProducts))
	}
	requestURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build marketplace request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.RecordConnectorCall(connectorName, err)
		return nil, &connector.NetworkError{Connector: connectorName, Err: err}
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		metrics.RecordConnectorCall(connectorName, err)
		return nil, err
	}

	var payload struct {
		Products []candidatePayload `json:"products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		metrics.RecordConnectorCall(connectorName, err)
		return nil, fmt.Errorf("decode marketplace response: %w", err)
	}
	metrics.RecordConnectorCall(connectorName, nil)

	candidates := make([]product.Candidate, 0, len(payload.Products))
	for _, raw := range payload.Products {
		if query.MinRating > 0 && raw.Rating < query.MinRating {
			continue
		}
		if query.MinOrders > 0 && raw.TotalOrders < query.MinOrders {
			continue
		}
		candidate := product.Candidate{
			Title:          strings.TrimSpace(raw.Title),
			RawDescription: raw.Description,
			CostUSD:        raw.CostUSD,
			ShippingUSD:    raw.ShippingUSD,
			SourceURL:      raw.URL,
			Platform:       raw.Platform,
			Rating:         raw.Rating,
			TotalOrders:    raw.TotalOrders,
		}
		for i, img := range raw.Images {
			candidate.Images = append(candidate.Images, product.Image{SRC: img.SRC, Alt: img.Alt, Position: i + 1})
		}
		if candidate.Title == "" || candidate.CostUSD <= 0 {
			s.log.WithField("url", raw.URL).Debug("dropping malformed candidate")
			continue
		}
		candidates = append(candidates, candidate)
	}

	s.log.WithField("category", query.Category).
		WithField("returned", len(payload.Products)).
		WithField("kept", len(candidates)).
		Info("marketplace page sourced")
	return candidates, nil
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if header := resp.Header.Get("Retry-After"); header != "" {
			if secs, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &connector.RateLimitedError{Connector: connectorName, RetryAfter: retryAfter}
	case resp.StatusCode >= 300:
		return &connector.UpstreamError{Connector: connectorName, StatusCode: resp.StatusCode}
	}
	return nil
}
