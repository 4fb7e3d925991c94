// Package safeclient is the read-only HTTP client connectors use to
// pull records from a remote vendor API during snapshot ingest (spec
// §5 "Resource policy"). It refuses every method but GET/HEAD, enforces
// the anti-SSRF allowlist from internal/safeguard, and can be
// shut off entirely by strict compliance mode.
package safeclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/islo-labs/doubleagent-sub000/internal/apierr"
	"github.com/islo-labs/doubleagent-sub000/internal/safeguard"
)

// ErrStrictCompliance is returned for every request when strict
// compliance mode blocks outbound HTTP unconditionally.
var ErrStrictCompliance = fmt.Errorf("%w: strict compliance mode blocks all outbound connector HTTP", apierr.ErrReadOnlyViolation)

// Config controls the read-only client's timeouts and SSRF posture.
type Config struct {
	// AllowPrivate permits private/loopback hostnames (useful when the
	// vendor API under test is itself a DoubleAgent fake).
	AllowPrivate bool
	// StrictCompliance blocks all outbound HTTP unconditionally,
	// regardless of AllowPrivate, per DOUBLEAGENT_COMPLIANCE_MODE=strict.
	StrictCompliance bool
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
	// MaxTotalTimeout is filled in by defaults() but is not applied by
	// Client: only Timeout, per round trip, bounds a request, and no
	// total deadline across a whole pull is enforced.
	MaxTotalTimeout time.Duration
}

func (c Config) defaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxTotalTimeout <= 0 {
		c.MaxTotalTimeout = 2 * time.Minute
	}
	return c
}

// Client is the connector runtime's only path to the network.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client. cfg.defaults() fills in unset timeouts.
func New(cfg Config) *Client {
	cfg = cfg.defaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Get issues a read-only GET against url, returning the body capped at
// safeguard.MaxResponseBody. It never returns a *http.Response: callers
// never get a hold of a live body they might forget to close.
func (c *Client) Get(ctx context.Context, url string) ([]byte, int, error) {
	return c.do(ctx, http.MethodGet, url)
}

// Head issues a read-only HEAD against url.
func (c *Client) Head(ctx context.Context, url string) ([]byte, int, error) {
	return c.do(ctx, http.MethodHead, url)
}

func (c *Client) do(ctx context.Context, method, url string) ([]byte, int, error) {
	if c.cfg.StrictCompliance {
		return nil, 0, ErrStrictCompliance
	}
	if method != http.MethodGet && method != http.MethodHead {
		return nil, 0, fmt.Errorf("%w: method %s not permitted", apierr.ErrReadOnlyViolation, method)
	}
	if err := safeguard.ValidateReadOnlyTarget(url, c.cfg.AllowPrivate); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", apierr.ErrReadOnlyViolation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := safeguard.LimitedReadAll(resp.Body, safeguard.MaxResponseBody)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
