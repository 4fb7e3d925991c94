// Package connector drives a pluggable StreamSource to pull reference
// data for the snapshot pipeline (spec §4.9). Per-stream reads run
// concurrently via golang.org/x/sync/errgroup; one stream's failure is
// logged and does not cancel the others, since the pull must surface a
// partial result rather than abort the whole run.
package connector

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ReservedPrefixes lists the field-name prefixes a StreamSource may use
// for protocol-internal bookkeeping; the runtime strips such fields
// before records leave Pull.
var ReservedPrefixes = []string{"_da_", "__"}

// StreamSource is the adapter interface any connector backend
// implements (spec §6.4). Select must be idempotent; Read returns a
// slice rather than a true lazy sequence since the runtime fully
// materializes each stream's records into the snapshot pipeline anyway.
type StreamSource interface {
	Discover(ctx context.Context) ([]string, error)
	Select(ctx context.Context, streams []string) error
	Read(ctx context.Context, stream string, limit *int) ([]map[string]any, error)
}

// Runtime wraps a StreamSource with the pull/limit/strip/isolate
// behavior the spec requires.
type Runtime struct {
	source StreamSource
	logger *slog.Logger
}

// New wraps source. A nil logger falls back to slog.Default().
func New(source StreamSource, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{source: source, logger: logger}
}

// Discover lists the streams the source can supply.
func (r *Runtime) Discover(ctx context.Context) ([]string, error) {
	return r.source.Discover(ctx)
}

// Pull selects streams, reads each concurrently, strips reserved-prefix
// metadata fields, and applies per-stream and global record limits.
// A single stream's read failure is logged and excluded from the
// result; it never fails the whole pull.
func (r *Runtime) Pull(ctx context.Context, streams []string, perStreamLimits map[string]int, globalLimit *int) (map[string][]map[string]any, error) {
	if err := r.source.Select(ctx, streams); err != nil {
		return nil, err
	}

	results := make(map[string][]map[string]any, len(streams))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, stream := range streams {
		stream := stream
		g.Go(func() error {
			var limit *int
			if n, ok := perStreamLimits[stream]; ok {
				limit = &n
			}
			records, err := r.source.Read(gctx, stream, limit)
			if err != nil {
				r.logger.Warn("connector: stream read failed, skipping", "stream", stream, "error", err)
				return nil
			}
			cleaned := make([]map[string]any, len(records))
			for i, rec := range records {
				cleaned[i] = stripReserved(rec)
			}
			mu.Lock()
			results[stream] = cleaned
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if globalLimit != nil {
		applyGlobalLimit(results, *globalLimit)
	}
	return results, nil
}

// applyGlobalLimit caps the total record count across all streams,
// trimming streams in map iteration order once the budget is spent.
// Determinism across streams isn't promised by the spec at this
// level — only per-stream BFS ordering (relfilter) is.
func applyGlobalLimit(results map[string][]map[string]any, globalLimit int) {
	remaining := globalLimit
	for stream, records := range results {
		if remaining <= 0 {
			delete(results, stream)
			continue
		}
		if len(records) > remaining {
			results[stream] = records[:remaining]
		}
		remaining -= len(results[stream])
	}
}

func stripReserved(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		if hasReservedPrefix(k) {
			continue
		}
		out[k] = v
	}
	return out
}

func hasReservedPrefix(field string) bool {
	for _, prefix := range ReservedPrefixes {
		if strings.HasPrefix(field, prefix) {
			return true
		}
	}
	return false
}
