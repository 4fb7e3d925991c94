package connector

import (
	"context"
	"errors"
	"testing"
)

type fakeSource struct {
	streams map[string][]map[string]any
	failOn  string
}

func (f *fakeSource) Discover(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.streams))
	for name := range f.streams {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeSource) Select(ctx context.Context, streams []string) error { return nil }

func (f *fakeSource) Read(ctx context.Context, stream string, limit *int) ([]map[string]any, error) {
	if stream == f.failOn {
		return nil, errors.New("boom")
	}
	records := f.streams[stream]
	if limit != nil && *limit < len(records) {
		records = records[:*limit]
	}
	return records, nil
}

func TestPullStripsReservedPrefixFields(t *testing.T) {
	src := &fakeSource{streams: map[string][]map[string]any{
		"repos": {{"id": float64(1), "name": "alpha", "_da_cursor": "xyz", "__internal": true}},
	}}
	rt := New(src, nil)

	out, err := rt.Pull(context.Background(), []string{"repos"}, nil, nil)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	rec := out["repos"][0]
	if _, ok := rec["_da_cursor"]; ok {
		t.Fatalf("expected _da_cursor to be stripped, got %+v", rec)
	}
	if _, ok := rec["__internal"]; ok {
		t.Fatalf("expected __internal to be stripped, got %+v", rec)
	}
	if rec["name"] != "alpha" {
		t.Fatalf("expected non-reserved fields to survive, got %+v", rec)
	}
}

func TestPullIsolatesPerStreamFailures(t *testing.T) {
	src := &fakeSource{
		streams: map[string][]map[string]any{
			"repos":  {{"id": float64(1)}},
			"issues": {{"id": float64(1)}},
		},
		failOn: "issues",
	}
	rt := New(src, nil)

	out, err := rt.Pull(context.Background(), []string{"repos", "issues"}, nil, nil)
	if err != nil {
		t.Fatalf("Pull should absorb per-stream failures, got error: %v", err)
	}
	if len(out["repos"]) != 1 {
		t.Fatalf("expected repos to survive despite issues failing, got %+v", out)
	}
	if _, ok := out["issues"]; ok {
		t.Fatalf("expected failed stream to be excluded, got %+v", out["issues"])
	}
}

func TestPullRespectsPerStreamLimit(t *testing.T) {
	src := &fakeSource{streams: map[string][]map[string]any{
		"repos": {{"id": float64(1)}, {"id": float64(2)}, {"id": float64(3)}},
	}}
	rt := New(src, nil)

	out, err := rt.Pull(context.Background(), []string{"repos"}, map[string]int{"repos": 2}, nil)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(out["repos"]) != 2 {
		t.Fatalf("expected 2 repos after per-stream limit, got %d", len(out["repos"]))
	}
}
