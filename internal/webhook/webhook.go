// Package webhook implements the fire-and-forget delivery engine (spec
// §4.5): HMAC-signed outbound POSTs with retry backoff, an inverted
// SSRF allowlist (fakes must only call back into private/loopback
// targets, never production hosts), and a queryable delivery log.
//
// The first attempt fires immediately; RetryDelays[k] is the wait
// before attempt k+2, and there is no wait after the final attempt —
// matching doubleagent_sdk's WebhookSimulator loop, which only sleeps
// "if attempt < max_retries-1".
//
// Delivery work is dispatched through a single bounded worker pool
// rather than one goroutine per attempt, following the teacher's
// chassis convention of a fixed-size pool feeding off a channel instead
// of unbounded goroutine fan-out. A token-bucket limiter additionally
// caps the engine's overall outbound attempt rate, independent of each
// delivery's own retry backoff.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/islo-labs/doubleagent-sub000/internal/idgen"
	"github.com/islo-labs/doubleagent-sub000/internal/safeguard"
)

// Status is the lifecycle state of a Delivery.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Delivery is one attempt-series of posting a webhook event. Immutable
// once Status leaves StatusPending.
type Delivery struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	TargetURL     string         `json:"target_url"`
	Namespace     string         `json:"namespace"`
	Status        Status         `json:"status"`
	Attempts      int            `json:"attempts"`
	LastAttemptAt *time.Time     `json:"last_attempt_at,omitempty"`
	ResponseCode  *int           `json:"response_code,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	Payload       map[string]any `json:"payload"`
}

// Config controls retry policy, timeouts, and the worker pool size.
type Config struct {
	MaxRetries        int
	RetryDelays       []time.Duration
	AttemptTimeout    time.Duration
	QueueSize         int
	Workers           int
	ExtraAllowedHosts []string

	// RatePerSecond caps outbound delivery attempts per second across
	// the whole engine, independent of the per-delivery retry backoff.
	// This protects a fake's own test harness from a misbehaving test
	// that schedules an unreasonable volume of deliveries at once.
	RatePerSecond float64
	RateBurst     int
}

func (c Config) defaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 5 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 50
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 10
	}
	return c
}

// delayFor returns how long to wait before attempt (1-indexed), which is
// the gap after the previous attempt failed. There is no wait before
// attempt 1: it fires immediately.
func (c Config) delayFor(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	idx := attempt - 2
	if idx >= len(c.RetryDelays) {
		idx = len(c.RetryDelays) - 1
	}
	return c.RetryDelays[idx]
}

// Engine owns the delivery log and the background worker pool.
type Engine struct {
	cfg     Config
	client  *http.Client
	gen     idgen.Generator
	limiter *rate.Limiter

	mu  sync.Mutex
	log []*Delivery

	queue    chan *task
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type task struct {
	delivery  *Delivery
	secret    string
	extraHdrs map[string]string
}

// New starts an Engine with cfg.Workers background goroutines draining
// a bounded queue. Call Shutdown to drain in-flight work.
func New(cfg Config, gen idgen.Generator) *Engine {
	cfg = cfg.defaults()
	if gen == nil {
		gen = idgen.Prefixed("whd", idgen.Default)
	}
	e := &Engine{
		cfg:     cfg,
		client:  &http.Client{},
		gen:     gen,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		queue:   make(chan *task, cfg.QueueSize),
		stop:    make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Deliver validates target_url against the allowlist and, on success,
// enqueues a background delivery task. It always returns a Delivery
// record: on allowlist rejection the record is immediately terminal
// (StatusFailed) and nothing is scheduled.
func (e *Engine) Deliver(eventType, targetURL string, payload map[string]any, namespace, secret string, extraHeaders map[string]string) *Delivery {
	d := &Delivery{
		ID:        e.gen(),
		EventType: eventType,
		TargetURL: targetURL,
		Namespace: namespace,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
	e.append(d)

	if err := safeguard.ValidateWebhookTarget(targetURL, e.cfg.ExtraAllowedHosts); err != nil {
		e.mu.Lock()
		d.Status = StatusFailed
		d.Error = err.Error()
		e.mu.Unlock()
		return d
	}

	t := &task{delivery: d, secret: secret, extraHdrs: extraHeaders}
	select {
	case e.queue <- t:
	default:
		// Queue saturated: fail fast rather than block the request
		// handler that called Deliver.
		e.mu.Lock()
		d.Status = StatusFailed
		d.Error = "webhook queue is full"
		e.mu.Unlock()
	}
	return d
}

func (e *Engine) append(d *Delivery) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, d)
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for t := range e.queue {
		e.deliver(t)
	}
}

// canonicalJSON serializes payload with sorted keys and no whitespace.
// encoding/json already sorts map[string]any keys and emits compact
// output, which is exactly the canonical form the spec requires.
func canonicalJSON(payload map[string]any) ([]byte, error) {
	return json.Marshal(payload)
}

func sign(secret string, body []byte) string {
	if secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (e *Engine) deliver(t *task) {
	d := t.delivery
	body, err := canonicalJSON(d.Payload)
	if err != nil {
		e.finish(d, StatusFailed, nil, fmt.Errorf("marshal payload: %w", err))
		return
	}
	signature := sign(t.secret, body)

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if delay := e.cfg.delayFor(attempt); delay > 0 {
			select {
			case <-e.stop:
				e.finish(d, StatusFailed, nil, fmt.Errorf("delivery aborted at shutdown"))
				return
			case <-time.After(delay):
			}
		} else {
			select {
			case <-e.stop:
				e.finish(d, StatusFailed, nil, fmt.Errorf("delivery aborted at shutdown"))
				return
			default:
			}
		}

		code, attemptErr := e.attempt(t, body, signature)

		e.mu.Lock()
		now := time.Now().UTC()
		d.Attempts = attempt
		d.LastAttemptAt = &now
		if attemptErr != nil {
			d.Error = attemptErr.Error()
		} else {
			d.ResponseCode = &code
			d.Error = ""
		}
		delivered := attemptErr == nil && code >= 200 && code < 300
		if delivered {
			d.Status = StatusDelivered
		}
		e.mu.Unlock()

		if delivered {
			return
		}
	}

	e.mu.Lock()
	d.Status = StatusFailed
	e.mu.Unlock()
}

func (e *Engine) attempt(t *task, body []byte, signature string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.AttemptTimeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.delivery.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", t.delivery.ID)
	req.Header.Set("X-Namespace", t.delivery.Namespace)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	for k, v := range t.extraHdrs {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = safeguard.LimitedReadAll(resp.Body, safeguard.MaxResponseBody)
	return resp.StatusCode, nil
}

func (e *Engine) finish(d *Delivery, status Status, code *int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d.Status = status
	d.ResponseCode = code
	if err != nil {
		d.Error = err.Error()
	}
}

// GetDeliveries returns log entries matching the given filters,
// newest-first, capped at limit (default 100 when limit <= 0).
func (e *Engine) GetDeliveries(namespace, eventType string, limit int) []*Delivery {
	if limit <= 0 {
		limit = 100
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Delivery, 0, len(e.log))
	for i := len(e.log) - 1; i >= 0; i-- {
		d := e.log[i]
		if namespace != "" && d.Namespace != namespace {
			continue
		}
		if eventType != "" && d.EventType != eventType {
			continue
		}
		out = append(out, d)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// StatusCounts reports how many deliveries in the log currently hold
// each terminal/non-terminal status, for metrics export.
func (e *Engine) StatusCounts() map[Status]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	counts := map[Status]int{}
	for _, d := range e.log {
		counts[d.Status]++
	}
	return counts
}

// Clear empties the delivery log. Called by hard reset.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = nil
}

// Shutdown stops accepting further retry attempts once the in-flight
// HTTP call (if any) completes, then waits for all workers to exit.
// Already-queued tasks whose first attempt hasn't started yet are
// drained and marked failed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stop) })
	close(e.queue)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
