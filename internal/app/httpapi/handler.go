// Package httpapi exposes the engine's REST surface: pipeline control,
// catalog reads, analytics history and the pricing configuration.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/xeriaco/sourcing_engine/internal/app"
	pipelinedomain "github.com/xeriaco/sourcing_engine/internal/app/domain/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/app/domain/product"
	"github.com/xeriaco/sourcing_engine/internal/app/metrics"
	pipelinesvc "github.com/xeriaco/sourcing_engine/internal/app/services/pipeline"
	"github.com/xeriaco/sourcing_engine/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the REST API, instrumented with
// request metrics.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/pipeline/runs", h.triggerRun).Methods(http.MethodPost)
	r.HandleFunc("/pipeline/status", h.pipelineStatus).Methods(http.MethodGet)
	r.HandleFunc("/pipeline/runs", h.listRuns).Methods(http.MethodGet)
	r.HandleFunc("/pipeline/runs/{id}", h.getRun).Methods(http.MethodGet)

	r.HandleFunc("/products", h.listProducts).Methods(http.MethodGet)
	r.HandleFunc("/analytics/snapshots", h.listSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/pricing/config", h.pricingConfig).Methods(http.MethodGet)
	r.HandleFunc("/pricing/quote", h.priceQuote).Methods(http.MethodPost)
	r.HandleFunc("/pricing/reprice", h.repriceAll).Methods(http.MethodPost)

	return metrics.InstrumentHandler(r)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RunType string `json:"run_type"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	run, err := h.app.Pipeline.Trigger(r.Context(), pipelinedomain.RunType(payload.RunType), pipelinedomain.TriggerAPI)
	switch {
	case errors.Is(err, pipelinesvc.ErrRunInFlight):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeJSON(w, http.StatusAccepted, run)
	}
}

func (h *handler) pipelineStatus(w http.ResponseWriter, r *http.Request) {
	run, err := h.app.Pipeline.Status(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("no runs recorded"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	runs, err := h.app.Pipeline.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.app.Pipeline.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.app.Stores.Products.ListActiveProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	snapshots, err := h.app.Analytics.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

type tierPayload struct {
	// MaxCostUSD is null for the unbounded tail tier.
	MaxCostUSD    *float64 `json:"max_cost_usd"`
	MarkupPercent float64  `json:"markup_percent"`
}

func (h *handler) pricingConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.app.Pricing.ConfigSnapshot()

	tiers := make([]tierPayload, 0, len(cfg.MarkupTiers))
	for _, tier := range cfg.MarkupTiers {
		payload := tierPayload{MarkupPercent: tier.MarkupPercent}
		if !math.IsInf(tier.MaxCostUSD, 1) {
			limit := tier.MaxCostUSD
			payload.MaxCostUSD = &limit
		}
		tiers = append(tiers, payload)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"markup_tiers":                tiers,
		"min_profit_aud":              cfg.MinProfitAUD,
		"usd_to_aud_rate":             cfg.USDToAUDRate,
		"psychological_endings":       cfg.PsychologicalEndings,
		"free_shipping_threshold_aud": cfg.FreeShippingThresholdAUD,
	})
}

func (h *handler) priceQuote(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CostUSD     float64 `json:"cost_usd"`
		ShippingUSD float64 `json:"shipping_usd"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	quote, err := h.app.Pricing.PriceCandidate(product.Candidate{
		CostUSD:     payload.CostUSD,
		ShippingUSD: payload.ShippingUSD,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (h *handler) repriceAll(w http.ResponseWriter, r *http.Request) {
	adjusted, err := h.app.Pricing.RepriceAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"adjusted": adjusted})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
