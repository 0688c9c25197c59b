// Package gemini generates listing copy with Google's Gemini models.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/xeriaco/sourcing_engine/internal/app/connector"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
	"github.com/xeriaco/sourcing_engine/internal/app/metrics"
	"github.com/xeriaco/sourcing_engine/pkg/logger"
)

const (
	connectorName = "gemini"
	defaultModel  = "gemini-1.5-flash"
)

var _ connector.Enricher = (*Enricher)(nil)

// Enricher asks Gemini for structured listing copy.
type Enricher struct {
	client *genai.Client
	model  string
	log    *logger.Logger
}

// New constructs a Gemini enricher.
func New(ctx context.Context, apiKey, model string, log *logger.Logger) (*Enricher, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = defaultModel
	}
	if log == nil {
		log = logger.NewDefault("gemini")
	}
	return &Enricher{client: client, model: model, log: log}, nil
}

// Close releases the underlying client.
func (e *Enricher) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

type enrichedPayload struct {
	Description     string   `json:"description"`
	DescriptionHTML string   `json:"description_html"`
	SEOTitle        string   `json:"seo_title"`
	SEODescription  string   `json:"seo_description"`
	Tags            []string `json:"tags"`
}

// Enrich generates listing copy for one product. The model is forced to
// JSON output and the response is validated before use.
func (e *Enricher) Enrich(ctx context.Context, p product.Product) (product.EnrichedContent, error) {
	model := e.client.GenerativeModel(e.model)
	model.SetTemperature(0.4)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(p)))
	if err != nil {
		metrics.RecordConnectorCall(connectorName, err)
		return product.EnrichedContent{}, &connector.NetworkError{Connector: connectorName, Err: err}
	}

	text, err := extractText(resp)
	if err != nil {
		metrics.RecordConnectorCall(connectorName, err)
		return product.EnrichedContent{}, fmt.Errorf("gemini response: %w", err)
	}

	var payload enrichedPayload
	if err := json.Unmarshal([]byte(cleanJSONBlock(text)), &payload); err != nil {
		metrics.RecordConnectorCall(connectorName, err)
		return product.EnrichedContent{}, fmt.Errorf("parse gemini response: %w", err)
	}
	if payload.Description == "" {
		err := fmt.Errorf("gemini returned empty description")
		metrics.RecordConnectorCall(connectorName, err)
		return product.EnrichedContent{}, err
	}
	metrics.RecordConnectorCall(connectorName, nil)

	e.log.WithField("product_id", p.ID).Debug("listing copy generated")
	return product.EnrichedContent{
		Description:     payload.Description,
		DescriptionHTML: payload.DescriptionHTML,
		SEOTitle:        payload.SEOTitle,
		SEODescription:  payload.SEODescription,
		Tags:            payload.Tags,
	}, nil
}

func buildPrompt(p product.Product) string {
	var b strings.Builder
	b.WriteString("Write ecommerce listing copy for the product below, aimed at Australian shoppers.\n")
	b.WriteString("Return a JSON object with keys: description (plain text, 2-3 paragraphs), ")
	b.WriteString("description_html (same copy with <p> and <ul> markup), seo_title (max 60 chars), ")
	b.WriteString("seo_description (max 155 chars), tags (5-8 lowercase keywords).\n\n")
	fmt.Fprintf(&b, "Product title: %s\n", p.Title)
	if p.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", p.Category)
	}
	fmt.Fprintf(&b, "Price: %.2f AUD\n", p.SellPriceAUD)
	if p.FreeShipping {
		b.WriteString("Ships free within Australia.\n")
	}
	return b.String()
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content parts")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts")
	}
	return strings.Join(parts, ""), nil
}

func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
