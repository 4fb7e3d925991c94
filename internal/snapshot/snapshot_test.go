package snapshot

import (
	"path/filepath"
	"testing"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := New(t.TempDir())
	resources := ResourceSet{
		"repos": {
			{"id": float64(1), "name": "alpha"},
			{"id": float64(2), "name": "beta"},
		},
	}

	dir, err := store.Save("issuefaker", "default", resources, "manual", false)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(dir) != "default" {
		t.Fatalf("expected dir to end in profile name, got %s", dir)
	}

	manifest, data, err := store.Load("issuefaker", "default")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if manifest.ResourceCounts["repos"] != 2 {
		t.Fatalf("expected resource_counts[repos]=2, got %d", manifest.ResourceCounts["repos"])
	}
	if manifest.SourceHash == "" {
		t.Fatalf("expected a source hash")
	}
	if len(data["repos"]) != 2 {
		t.Fatalf("expected 2 loaded repos, got %d", len(data["repos"]))
	}
}

func TestSaveIncrementalPreservesExistingOnConflict(t *testing.T) {
	store := New(t.TempDir())

	first := ResourceSet{"repos": {
		{"id": float64(1), "name": "old"},
		{"id": float64(2), "name": "keep"},
	}}
	if _, err := store.Save("svc", "p", first, "manual", false); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := ResourceSet{"repos": {
		{"id": float64(1), "name": "new"},
		{"id": float64(3), "name": "add"},
	}}
	if _, err := store.SaveIncremental("svc", "p", second, "manual", false); err != nil {
		t.Fatalf("SaveIncremental: %v", err)
	}

	_, data, err := store.Load("svc", "p")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(data["repos"]) != 3 {
		t.Fatalf("expected 3 merged repos, got %d", len(data["repos"]))
	}
	one, ok := data["repos"]["1"]
	if !ok {
		t.Fatalf("expected id 1 present, got %+v", data["repos"])
	}
	if one["name"] != "old" {
		t.Fatalf("expected id 1 to preserve the earlier trusted value 'old', got %v", one["name"])
	}
}

func TestSaveIncrementalWithNoPriorManifestBehavesLikeSave(t *testing.T) {
	store := New(t.TempDir())
	resources := ResourceSet{"repos": {{"id": float64(1), "name": "alpha"}}}

	if _, err := store.SaveIncremental("svc", "p", resources, "manual", false); err != nil {
		t.Fatalf("SaveIncremental: %v", err)
	}
	manifest, _, err := store.Load("svc", "p")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if manifest.ResourceCounts["repos"] != 1 {
		t.Fatalf("expected 1 repo, got %d", manifest.ResourceCounts["repos"])
	}
}

func TestListAndDelete(t *testing.T) {
	store := New(t.TempDir())
	resources := ResourceSet{"repos": {{"id": float64(1)}}}
	if _, err := store.Save("svc-a", "default", resources, "manual", false); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Save("svc-b", "default", resources, "manual", false); err != nil {
		t.Fatalf("Save: %v", err)
	}

	all, err := store.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(all))
	}

	if err := store.Delete("svc-a", "default"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	remaining, err := store.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Service != "svc-b" {
		t.Fatalf("expected only svc-b to remain, got %+v", remaining)
	}
}
