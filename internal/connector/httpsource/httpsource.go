// Package httpsource is a StreamSource that pulls records from a remote
// vendor-shaped HTTP API through the connector's read-only client (spec
// §5 "Resource policy", §6.4). It exists so a snapshot pull can target
// a real API endpoint — including another DoubleAgent fake running
// elsewhere — instead of only a local SQLite file.
package httpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/islo-labs/doubleagent-sub000/internal/safeclient"
)

// Source discovers streams from a `{base}/streams` endpoint returning a
// JSON array of names, and reads each stream from `{base}/{stream}`
// returning a JSON array of records.
type Source struct {
	client  *safeclient.Client
	baseURL string

	selected map[string]bool
}

// New creates a Source reading from baseURL through client.
func New(client *safeclient.Client, baseURL string) *Source {
	return &Source{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		selected: map[string]bool{},
	}
}

func (s *Source) Discover(ctx context.Context) ([]string, error) {
	body, _, err := s.client.Get(ctx, s.baseURL+"/streams")
	if err != nil {
		return nil, fmt.Errorf("discover streams: %w", err)
	}
	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, fmt.Errorf("decode stream list: %w", err)
	}
	return names, nil
}

// Select is idempotent bookkeeping; the HTTP backend has no session to
// establish, so it just records which streams were requested.
func (s *Source) Select(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		s.selected[stream] = true
	}
	return nil
}

func (s *Source) Read(ctx context.Context, stream string, limit *int) ([]map[string]any, error) {
	endpoint := s.baseURL + "/" + url.PathEscape(stream)
	if limit != nil {
		endpoint += "?limit=" + strconv.Itoa(*limit)
	}

	body, _, err := s.client.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", stream, err)
	}

	var records []map[string]any
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode stream %s: %w", stream, err)
	}
	return records, nil
}
