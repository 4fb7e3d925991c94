package issuesvc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/islo-labs/doubleagent-sub000/internal/idempotency"
	"github.com/islo-labs/doubleagent-sub000/internal/idgen"
	"github.com/islo-labs/doubleagent-sub000/internal/state"
	"github.com/islo-labs/doubleagent-sub000/internal/vendorkit"
	"github.com/islo-labs/doubleagent-sub000/internal/webhook"
)

func newTestService() (*Service, *chi.Mux) {
	router := state.NewRouter(state.EmptyBaseline())
	idemp := idempotency.New(0)
	wh := webhook.New(webhook.Config{
		RetryDelays: []time.Duration{time.Millisecond, time.Millisecond},
	}, idgen.Prefixed("whd", idgen.NanoID(8)))

	svc := New(router, wh, idemp, nil)
	mux := chi.NewRouter()
	mux.Use(vendorkit.WithNamespace(""))
	mux.Use(vendorkit.WithRequestID(""))
	svc.Mount(mux)
	return svc, mux
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

func TestCreateAndGetRepo(t *testing.T) {
	_, mux := newTestService()

	rec := doJSON(mux, http.MethodPost, "/repos/", map[string]any{"name": "widgets"}, map[string]string{"X-Request-Id": "r1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := created["id"]

	rec = doJSON(mux, http.MethodGet, "/repos/1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	var fetched map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetched["id"] != id {
		t.Fatalf("expected id %v, got %v", id, fetched["id"])
	}
}

func TestCreatePostIsIdempotentByRequestID(t *testing.T) {
	_, mux := newTestService()
	headers := map[string]string{"X-Request-Id": "req-dup"}

	first := doJSON(mux, http.MethodPost, "/repos/", map[string]any{"name": "widgets"}, headers)
	second := doJSON(mux, http.MethodPost, "/repos/", map[string]any{"name": "widgets"}, headers)

	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical replayed body, got %q vs %q", first.Body.String(), second.Body.String())
	}

	rec := doJSON(mux, http.MethodGet, "/repos/", nil, nil)
	var repos []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &repos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(repos) != 1 {
		t.Fatalf("expected a replayed create to not re-mutate state, got %d repos", len(repos))
	}
}

func TestCreateIssueFiresRegisteredWebhook(t *testing.T) {
	var received map[string]any
	done := make(chan struct{})
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer target.Close()

	_, mux := newTestService()

	rec := doJSON(mux, http.MethodPost, "/webhook-subscriptions", Subscription{TargetURL: target.URL}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe: expected 201, got %d", rec.Code)
	}

	rec = doJSON(mux, http.MethodPost, "/issues/", map[string]any{"title": "bug"}, map[string]string{"X-Request-Id": "r2"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create issue: expected 201, got %d", rec.Code)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
	}
	if received["title"] != "bug" {
		t.Fatalf("expected delivered payload to carry the issue, got %+v", received)
	}
}

func TestCacheHitDoesNotFireWebhookTwice(t *testing.T) {
	var count int
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	_, mux := newTestService()
	doJSON(mux, http.MethodPost, "/webhook-subscriptions", Subscription{TargetURL: target.URL}, nil)

	headers := map[string]string{"X-Request-Id": "r3"}
	doJSON(mux, http.MethodPost, "/issues/", map[string]any{"title": "dup"}, headers)
	doJSON(mux, http.MethodPost, "/issues/", map[string]any{"title": "dup"}, headers)

	time.Sleep(100 * time.Millisecond)
	if count != 1 {
		t.Fatalf("expected exactly one webhook delivery across a cache hit, got %d", count)
	}
}
