package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/islo-labs/doubleagent-sub000/internal/idgen"
)

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		RetryDelays:    []time.Duration{time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond},
		AttemptTimeout: time.Second,
		Workers:        2,
		QueueSize:      16,
	}
}

func TestDeliverSuccessOnFirstAttempt(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Hub-Signature-256")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New(fastConfig(), idgen.Prefixed("whd", idgen.NanoID(8)))
	defer e.Shutdown(context.Background())

	d := e.Deliver("issues", srv.URL, map[string]any{"id": float64(1)}, "default", "supersecretsupersecret", nil)
	waitForStatus(t, e, d.ID, StatusDelivered)

	if gotSig == "" {
		t.Fatalf("expected signed request")
	}
}

func TestDeliverRetriesThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(fastConfig(), idgen.Prefixed("whd", idgen.NanoID(8)))
	defer e.Shutdown(context.Background())

	d := e.Deliver("issues", srv.URL, map[string]any{"id": float64(1)}, "default", "", nil)
	waitForStatus(t, e, d.ID, StatusFailed)

	if d.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", d.Attempts)
	}
}

func TestDeliverRejectsPublicTarget(t *testing.T) {
	e := New(fastConfig(), idgen.Prefixed("whd", idgen.NanoID(8)))
	defer e.Shutdown(context.Background())

	d := e.Deliver("issues", "https://api.public-saas.example.com/hook", map[string]any{}, "default", "", nil)
	if d.Status != StatusFailed {
		t.Fatalf("expected immediate failure for public target, got %v", d.Status)
	}
	if d.Attempts != 0 {
		t.Fatalf("expected no attempts scheduled for a rejected target, got %d", d.Attempts)
	}
}

func TestGetDeliveriesFiltersAndOrdersNewestFirst(t *testing.T) {
	e := New(fastConfig(), idgen.Prefixed("whd", idgen.NanoID(8)))
	defer e.Shutdown(context.Background())

	e.Deliver("issues", "http://127.0.0.1:1/a", map[string]any{}, "ns-a", "", nil)
	e.Deliver("comments", "http://127.0.0.1:1/b", map[string]any{}, "ns-a", "", nil)
	e.Deliver("issues", "http://127.0.0.1:1/c", map[string]any{}, "ns-b", "", nil)

	got := e.GetDeliveries("ns-a", "", 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries for ns-a, got %d", len(got))
	}
	if got[0].EventType != "comments" {
		t.Fatalf("expected newest-first ordering, got %v", got[0].EventType)
	}
}

func TestClearEmptiesLog(t *testing.T) {
	e := New(fastConfig(), idgen.Prefixed("whd", idgen.NanoID(8)))
	defer e.Shutdown(context.Background())

	e.Deliver("issues", "http://127.0.0.1:1/a", map[string]any{}, "default", "", nil)
	e.Clear()
	if got := e.GetDeliveries("", "", 0); len(got) != 0 {
		t.Fatalf("expected empty log after Clear, got %d entries", len(got))
	}
}

func waitForStatus(t *testing.T, e *Engine, id string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, d := range e.GetDeliveries("", "", 0) {
			if d.ID == id {
				if d.Status == want {
					return
				}
				if d.Status == StatusFailed && want != StatusFailed {
					t.Fatalf("delivery %s failed unexpectedly: %s", id, d.Error)
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("delivery %s did not reach status %s in time", id, want)
}
