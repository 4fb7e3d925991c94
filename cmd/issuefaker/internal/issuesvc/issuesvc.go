// Package issuesvc is a deliberately thin fake issue-tracker: just
// enough CRUD over "repos" and "issues" resource types, wired through
// the shared core (state router, idempotency cache, webhook engine) to
// prove those pieces are load-bearing. It is not meant to be a faithful
// reproduction of any one vendor's wire protocol.
package issuesvc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/islo-labs/doubleagent-sub000/internal/idempotency"
	"github.com/islo-labs/doubleagent-sub000/internal/state"
	"github.com/islo-labs/doubleagent-sub000/internal/vendorkit"
	"github.com/islo-labs/doubleagent-sub000/internal/webhook"
)

// Subscription is a namespace-scoped webhook target registered by a
// test harness before it exercises the fake.
type Subscription struct {
	TargetURL string `json:"target_url"`
	Secret    string `json:"secret,omitempty"`
}

// Service implements the example fake's HTTP surface.
type Service struct {
	router   *state.Router
	webhooks *webhook.Engine
	idemp    *idempotency.Cache
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[string][]Subscription // namespace -> subscriptions
}

// New wires a Service on top of the shared core components.
func New(router *state.Router, webhooks *webhook.Engine, idemp *idempotency.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		router:   router,
		webhooks: webhooks,
		idemp:    idemp,
		logger:   logger,
		subs:     map[string][]Subscription{},
	}
}

// Mount registers the vendor-shaped routes on r. Callers are expected
// to have already wrapped r with vendorkit.WithNamespace and
// vendorkit.WithRequestID.
func (s *Service) Mount(r chi.Router) {
	r.Route("/repos", func(rr chi.Router) {
		rr.With(s.idempotent).Post("/", s.createRepo)
		rr.Get("/", s.listRepos)
		rr.Get("/{id}", s.getRepo)
	})
	r.Route("/issues", func(rr chi.Router) {
		rr.With(s.idempotent).Post("/", s.createIssue)
		rr.Get("/", s.listIssues)
		rr.Get("/{id}", s.getIssue)
	})
	r.Post("/webhook-subscriptions", s.createSubscription)
}

func (s *Service) overlay(r *http.Request) *state.Overlay {
	ns := vendorkit.Namespace(r.Context())
	if ns == "" {
		ns = state.DefaultNamespace
	}
	return s.router.GetState(ns)
}

func (s *Service) namespace(r *http.Request) string {
	ns := vendorkit.Namespace(r.Context())
	if ns == "" {
		ns = state.DefaultNamespace
	}
	return ns
}

func (s *Service) createRepo(w http.ResponseWriter, r *http.Request) {
	s.create(w, r, "repos", nil)
}

func (s *Service) createIssue(w http.ResponseWriter, r *http.Request) {
	s.create(w, r, "issues", s.fireIssueWebhooks)
}

// create decodes the request body as a resource, assigns an id if the
// caller didn't supply one, stores it in the namespace overlay, and
// optionally invokes onCreated with the stored resource afterward.
func (s *Service) create(w http.ResponseWriter, r *http.Request, resourceType string, onCreated func(ns string, resource state.Resource)) {
	var resource state.Resource
	if err := json.NewDecoder(r.Body).Decode(&resource); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body: " + err.Error()})
		return
	}
	overlay := s.overlay(r)

	var idStr string
	if id, ok := resource["id"]; ok {
		idStr = fmt.Sprintf("%v", id)
	} else {
		n := overlay.NextID(resourceType)
		idStr = strconv.Itoa(n)
		resource["id"] = n
	}

	overlay.Put(resourceType, idStr, resource)
	writeJSON(w, http.StatusCreated, resource)

	if onCreated != nil {
		onCreated(s.namespace(r), resource)
	}
}

func (s *Service) listRepos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.overlay(r).List("repos", nil))
}

func (s *Service) getRepo(w http.ResponseWriter, r *http.Request) {
	s.get(w, r, "repos")
}

func (s *Service) listIssues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.overlay(r).List("issues", nil))
}

func (s *Service) getIssue(w http.ResponseWriter, r *http.Request) {
	s.get(w, r, "issues")
}

func (s *Service) get(w http.ResponseWriter, r *http.Request, resourceType string) {
	id := chi.URLParam(r, "id")
	resource, ok := s.overlay(r).Get(resourceType, id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": resourceType + " not found"})
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

func (s *Service) createSubscription(w http.ResponseWriter, r *http.Request) {
	var sub Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body: " + err.Error()})
		return
	}
	ns := s.namespace(r)

	s.mu.Lock()
	s.subs[ns] = append(s.subs[ns], sub)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"registered": true})
}

func (s *Service) fireIssueWebhooks(ns string, resource state.Resource) {
	s.mu.Lock()
	subs := append([]Subscription(nil), s.subs[ns]...)
	s.mu.Unlock()

	for _, sub := range subs {
		s.webhooks.Deliver("issues", sub.TargetURL, resource, ns, sub.Secret, nil)
	}
}

// idempotent replays a cached (status, body) pair for eligible POSTs
// without invoking the wrapped handler, so a cache hit neither mutates
// state nor fires webhooks. On a miss it runs the handler, capturing
// the response, then stores it for future replays.
func (s *Service) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := vendorkit.RequestID(r.Context())
		if !idempotency.Eligible(r.Method, reqID) {
			next.ServeHTTP(w, r)
			return
		}

		if entry, ok := s.idemp.Lookup(r.Method, reqID); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(entry.StatusCode)
			_, _ = w.Write(entry.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK, body: &bytes.Buffer{}}
		next.ServeHTTP(rec, r)

		s.idemp.Store(r.Method, reqID, idempotency.Entry{
			StatusCode: rec.status,
			Body:       rec.body.Bytes(),
		})
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
