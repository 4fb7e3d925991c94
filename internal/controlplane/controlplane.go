// Package controlplane implements the lifecycle HTTP surface mounted on
// every fake service under /_doubleagent (spec §4.3): health, info,
// reset, bootstrap, seed, namespaces, the webhook delivery log, and a
// Prometheus /metrics endpoint reporting overlay sizes, idempotency
// cache occupancy, and webhook delivery counts. These routes bypass
// idempotency caching and vendor auth entirely — they are test-harness
// plumbing, not vendor-shaped endpoints.
package controlplane

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/islo-labs/doubleagent-sub000/internal/idempotency"
	"github.com/islo-labs/doubleagent-sub000/internal/state"
	"github.com/islo-labs/doubleagent-sub000/internal/vendorkit"
	"github.com/islo-labs/doubleagent-sub000/internal/webhook"
)

// Handler wires the namespace router, idempotency cache, and webhook
// engine together behind the control-plane HTTP surface.
type Handler struct {
	ServiceName     string
	Version         string
	Features        map[string]bool
	NamespaceHeader string

	router   *state.Router
	idemp    *idempotency.Cache
	webhooks *webhook.Engine
	logger   *slog.Logger
	registry *prometheus.Registry
}

// New creates a control-plane Handler. logger defaults to slog.Default
// when nil.
func New(router *state.Router, idemp *idempotency.Cache, webhooks *webhook.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(newMetricsCollector(router, idemp, webhooks))

	return &Handler{
		ServiceName:     "doubleagent",
		Version:         "dev",
		Features:        map[string]bool{"compliance_mode": false, "sqlite_connector": true, "metrics": true},
		NamespaceHeader: vendorkit.DefaultNamespaceHeader,
		router:          router,
		idemp:           idemp,
		webhooks:        webhooks,
		logger:          logger,
		registry:        registry,
	}
}

// Mount registers every control-plane route under /_doubleagent on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/_doubleagent", func(cp chi.Router) {
		cp.Get("/health", h.handleHealth)
		cp.Get("/info", h.handleInfo)
		cp.Post("/reset", h.handleReset)
		cp.Post("/bootstrap", h.handleBootstrap)
		cp.Post("/seed", h.handleSeed)
		cp.Get("/namespaces", h.handleNamespaces)
		cp.Get("/webhooks", h.handleWebhooks)
		cp.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	})
}

func (h *Handler) namespace(r *http.Request) string {
	ns := r.Header.Get(h.NamespaceHeader)
	if ns == "" {
		ns = state.DefaultNamespace
	}
	return ns
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service_name": h.ServiceName,
		"version":      h.Version,
		"features":     h.Features,
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	hard := r.URL.Query().Get("hard") == "true"
	ns := h.namespace(r)

	h.router.ResetNamespace(ns, hard)
	h.idemp.Clear()
	if hard {
		h.webhooks.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"hard": hard, "namespace": ns})
}

func (h *Handler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var baseline map[string]map[string]state.Resource
	if err := json.NewDecoder(r.Body).Decode(&baseline); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid baseline JSON: " + err.Error()})
		return
	}
	loaded := h.router.LoadBaseline(baseline)
	writeJSON(w, http.StatusOK, map[string]any{"loaded": loaded})
}

func (h *Handler) handleSeed(w http.ResponseWriter, r *http.Request) {
	var overlay map[string]map[string]state.Resource
	if err := json.NewDecoder(r.Body).Decode(&overlay); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid seed JSON: " + err.Error()})
		return
	}
	ns := h.namespace(r)
	seeded := h.router.GetState(ns).Seed(overlay)
	writeJSON(w, http.StatusOK, map[string]any{"seeded": seeded})
}

func (h *Handler) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": h.router.ListNamespaces()})
}

func (h *Handler) handleWebhooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ns := q.Get("namespace")
	eventType := q.Get("event_type")
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": h.webhooks.GetDeliveries(ns, eventType, limit)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
