package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/islo-labs/doubleagent-sub000/internal/idempotency"
	"github.com/islo-labs/doubleagent-sub000/internal/idgen"
	"github.com/islo-labs/doubleagent-sub000/internal/state"
	"github.com/islo-labs/doubleagent-sub000/internal/webhook"
)

func newTestHandler() (*Handler, *chi.Mux) {
	router := state.NewRouter(state.EmptyBaseline())
	idemp := idempotency.New(0)
	wh := webhook.New(webhook.Config{}, idgen.Prefixed("whd", idgen.NanoID(8)))

	h := New(router, idemp, wh, nil)
	mux := chi.NewRouter()
	h.Mount(mux)
	return h, mux
}

func doJSON(mux *chi.Mux, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	_, mux := newTestHandler()
	rec := doJSON(mux, http.MethodGet, "/_doubleagent/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", out)
	}
}

func TestBootstrapThenSeedThenReset(t *testing.T) {
	_, mux := newTestHandler()

	baseline := map[string]map[string]map[string]any{
		"repos": {"1": {"id": float64(1), "name": "alpha"}},
	}
	rec := doJSON(mux, http.MethodPost, "/_doubleagent/bootstrap", baseline, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bootstrap: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	seed := map[string]map[string]map[string]any{
		"issues": {"1": {"id": float64(1), "title": "bug"}},
	}
	rec = doJSON(mux, http.MethodPost, "/_doubleagent/seed", seed, map[string]string{"X-DoubleAgent-Namespace": "tenant-a"})
	if rec.Code != http.StatusOK {
		t.Fatalf("seed: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(mux, http.MethodGet, "/_doubleagent/namespaces", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("namespaces: expected 200, got %d", rec.Code)
	}

	rec = doJSON(mux, http.MethodPost, "/_doubleagent/reset?hard=true", nil, map[string]string{"X-DoubleAgent-Namespace": "tenant-a"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhooksEndpointFiltersByNamespace(t *testing.T) {
	h, mux := newTestHandler()
	h.webhooks.Deliver("issues", "http://127.0.0.1:1/x", map[string]any{}, "tenant-a", "", nil)
	h.webhooks.Deliver("issues", "http://127.0.0.1:1/y", map[string]any{}, "tenant-b", "", nil)

	rec := doJSON(mux, http.MethodGet, "/_doubleagent/webhooks?namespace=tenant-a", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Deliveries []map[string]any `json:"deliveries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Deliveries) != 1 {
		t.Fatalf("expected 1 delivery for tenant-a, got %d", len(out.Deliveries))
	}
}

func TestMetricsEndpointExposesWebhookCounts(t *testing.T) {
	h, mux := newTestHandler()
	h.webhooks.Deliver("issues", "http://127.0.0.1:1/x", map[string]any{}, "tenant-a", "", nil)

	rec := doJSON(mux, http.MethodGet, "/_doubleagent/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("doubleagent_webhook_deliveries")) {
		t.Fatalf("expected metrics output to mention webhook deliveries, got: %s", rec.Body.String())
	}
}
