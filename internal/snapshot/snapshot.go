// Package snapshot persists redacted reference data pulled from a real
// vendor API to disk, so a fake service can later boot from it via
// load_baseline (spec §4.7). Layout mirrors the teacher's atomic
// write-then-rename convention for on-disk artifacts: every file is
// written to a .tmp sibling and renamed into place so a reader never
// observes a partial write.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Manifest is the versioned record describing one snapshot pull.
type Manifest struct {
	Service        string         `json:"service"`
	Profile        string         `json:"profile"`
	Version        int            `json:"version"`
	PulledAt       time.Time      `json:"pulled_at"`
	Connector      string         `json:"connector"`
	Redacted       bool           `json:"redacted"`
	ResourceCounts map[string]int `json:"resource_counts"`
	SourceHash     string         `json:"source_hash,omitempty"`
}

// ResourceSet maps a resource type to its ordered records.
type ResourceSet map[string][]map[string]any

// Store reads and writes snapshots under a root directory, one
// subdirectory per (service, profile) pair.
type Store struct {
	root string
}

// New creates a Store rooted at dir. dir is created lazily on first
// write.
func New(dir string) *Store {
	return &Store{root: dir}
}

func (s *Store) dir(service, profile string) string {
	return filepath.Join(s.root, service, profile)
}

// Save writes resources and a fresh manifest, overwriting any prior
// snapshot for (service, profile). Returns the directory written.
func (s *Store) Save(service, profile string, resources ResourceSet, connector string, redacted bool) (string, error) {
	dir := s.dir(service, profile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}

	hasher := sha256.New()
	counts := make(map[string]int, len(resources))
	for _, typ := range sortedKeys(resources) {
		items := resources[typ]
		if err := writeResourceFile(dir, typ, items, hasher); err != nil {
			return "", err
		}
		counts[typ] = len(items)
	}

	manifest := Manifest{
		Service:        service,
		Profile:        profile,
		Version:        1,
		PulledAt:       time.Now().UTC(),
		Connector:      connector,
		Redacted:       redacted,
		ResourceCounts: counts,
		SourceHash:     "sha256:" + hex.EncodeToString(hasher.Sum(nil)),
	}
	if err := writeManifest(dir, manifest); err != nil {
		return "", err
	}
	return dir, nil
}

// SaveIncremental merges resources into any existing snapshot for
// (service, profile): known ids are preserved from the existing file,
// unknown ids are appended. With no prior manifest this behaves exactly
// like Save.
func (s *Store) SaveIncremental(service, profile string, resources ResourceSet, connector string, redacted bool) (string, error) {
	_, existingData, err := s.Load(service, profile)
	if err != nil {
		if os.IsNotExist(err) {
			return s.Save(service, profile, resources, connector, redacted)
		}
		return "", err
	}

	merged := make(ResourceSet, len(resources))
	for typ, incoming := range resources {
		merged[typ] = mergeByID(existingData[typ], incoming)
	}
	// Carry forward resource types present before but absent from this pull.
	for typ, items := range existingData {
		if _, ok := merged[typ]; !ok {
			merged[typ] = resourceMapValues(items)
		}
	}

	return s.Save(service, profile, merged, connector, redacted)
}

// mergeByID preserves existing items keyed by id; incoming items with
// an id already present are dropped, everything else is appended in
// existing-then-incoming order.
func mergeByID(existing map[string]map[string]any, incoming []map[string]any) []map[string]any {
	seen := make(map[string]bool, len(existing))
	out := make([]map[string]any, 0, len(existing)+len(incoming))
	for _, item := range existing {
		out = append(out, item)
		if id, ok := resourceID(item); ok {
			seen[id] = true
		}
	}
	for _, item := range incoming {
		if id, ok := resourceID(item); ok && seen[id] {
			continue
		}
		out = append(out, item)
	}
	return out
}

func resourceMapValues(m map[string]map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Load reads the manifest and every resource file for (service,
// profile), keying each resource type's records by id — falling back
// to the file's list index when a record has no id, which can collapse
// distinct id-less rows onto the same key. That quirk is load_snapshot's
// documented behavior, carried forward rather than fixed.
func (s *Store) Load(service, profile string) (Manifest, map[string]map[string]map[string]any, error) {
	dir := s.dir(service, profile)
	var manifest Manifest

	manifestPath := filepath.Join(dir, "manifest.json")
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return manifest, nil, err
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return manifest, nil, fmt.Errorf("snapshot: parse manifest %s: %w", manifestPath, err)
	}

	data := make(map[string]map[string]map[string]any, len(manifest.ResourceCounts))
	for typ := range manifest.ResourceCounts {
		items, err := readResourceFile(dir, typ)
		if err != nil {
			return manifest, nil, err
		}
		byID := make(map[string]map[string]any, len(items))
		for idx, item := range items {
			var keyStr string
			if id, ok := resourceID(item); ok {
				keyStr = id
			} else {
				keyStr = fmt.Sprintf("%d", idx)
			}
			byID[keyStr] = item
		}
		data[typ] = byID
	}
	return manifest, data, nil
}

// Info describes one on-disk snapshot for listing purposes.
type Info struct {
	Service string
	Profile string
}

// List enumerates stored (service, profile) pairs. If service is
// non-empty, only snapshots under that service are returned.
func (s *Store) List(service string) ([]Info, error) {
	var out []Info
	services := []string{service}
	if service == "" {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		services = services[:0]
		for _, e := range entries {
			if e.IsDir() {
				services = append(services, e.Name())
			}
		}
	}
	for _, svc := range services {
		profiles, err := os.ReadDir(filepath.Join(s.root, svc))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, p := range profiles {
			if p.IsDir() {
				out = append(out, Info{Service: svc, Profile: p.Name()})
			}
		}
	}
	return out, nil
}

// Delete removes the on-disk directory for (service, profile).
func (s *Store) Delete(service, profile string) error {
	return os.RemoveAll(s.dir(service, profile))
}

func writeResourceFile(dir, typ string, items []map[string]any, hasher interface{ Write([]byte) (int, error) }) error {
	if items == nil {
		items = []map[string]any{}
	}
	encoded, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal %s: %w", typ, err)
	}
	hasher.Write(encoded)
	return atomicWrite(filepath.Join(dir, typ+".json"), encoded)
}

func readResourceFile(dir, typ string) ([]map[string]any, error) {
	raw, err := os.ReadFile(filepath.Join(dir, typ+".json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", typ, err)
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("snapshot: parse %s: %w", typ, err)
	}
	return items, nil
}

func writeManifest(dir string, m Manifest) error {
	encoded, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal manifest: %w", err)
	}
	return atomicWrite(filepath.Join(dir, "manifest.json"), encoded)
}

func atomicWrite(target string, data []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write tmp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: rename %s: %w", target, err)
	}
	return nil
}

func resourceID(item map[string]any) (string, bool) {
	v, ok := item["id"]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return fmt.Sprintf("%v", t), true
	case int:
		return fmt.Sprintf("%d", t), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

func sortedKeys(m ResourceSet) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
