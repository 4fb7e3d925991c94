package state

import (
	"sync"
	"sync/atomic"

	"github.com/islo-labs/doubleagent-sub000/internal/jsonval"
)

type tombstoneKey struct {
	Type string
	ID   string
}

// Overlay is a per-namespace mutable layer over a shared, immutable
// Baseline. All state-changing operations are guarded by one coarse lock,
// held strictly for the duration of the in-memory mutation and never
// across network I/O (spec §5).
type Overlay struct {
	baseline atomic.Pointer[Baseline] // swapped wholesale on load_baseline

	mu         sync.Mutex
	data       map[string]map[string]Resource // type -> id -> resource
	tombstones map[tombstoneKey]struct{}
	counters   map[string]int
}

// newOverlay creates an overlay backed by baseline. Unexported: overlays
// are only ever created through a Router, which owns namespace lifecycle.
func newOverlay(baseline *Baseline) *Overlay {
	o := &Overlay{
		data:       map[string]map[string]Resource{},
		tombstones: map[tombstoneKey]struct{}{},
		counters:   map[string]int{},
	}
	o.baseline.Store(baseline)
	return o
}

// Get applies the four-step effective view: tombstone, then overlay, then
// baseline (deep-copied), then not-found.
func (o *Overlay) Get(typ, id string) (Resource, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.getLocked(typ, id)
}

func (o *Overlay) getLocked(typ, id string) (Resource, bool) {
	if _, tomb := o.tombstones[tombstoneKey{typ, id}]; tomb {
		return nil, false
	}
	if byID, ok := o.data[typ]; ok {
		if res, ok := byID[id]; ok {
			return jsonval.CloneMap(res), true
		}
	}
	return o.baseline.Load().get(typ, id)
}

// Put installs resource into the overlay, clearing any tombstone for
// (typ, id). Idempotent: repeated Puts with the same id simply overwrite.
func (o *Overlay) Put(typ, id string, resource Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.data[typ] == nil {
		o.data[typ] = map[string]Resource{}
	}
	o.data[typ][id] = jsonval.CloneMap(resource)
	delete(o.tombstones, tombstoneKey{typ, id})
}

// Delete hides (typ, id) from this namespace. Returns whether the resource
// was previously visible. A delete of a baseline-only resource adds a
// tombstone without touching the baseline.
func (o *Overlay) Delete(typ, id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, existed := o.getLocked(typ, id)
	if byID, ok := o.data[typ]; ok {
		delete(byID, id)
	}
	o.tombstones[tombstoneKey{typ, id}] = struct{}{}
	return existed
}

// List returns every live resource of typ: baseline merged with overlay
// (overlay wins), tombstoned ids excluded, then the optional filter
// applied. Ordering is unspecified.
func (o *Overlay) List(typ string, filter func(Resource) bool) []Resource {
	o.mu.Lock()
	merged := o.baseline.Load().list(typ)
	if merged == nil {
		merged = map[string]Resource{}
	}
	for id, res := range o.data[typ] {
		merged[id] = jsonval.CloneMap(res)
	}
	for key := range o.tombstones {
		if key.Type == typ {
			delete(merged, key.ID)
		}
	}
	o.mu.Unlock()

	out := make([]Resource, 0, len(merged))
	for _, res := range merged {
		if filter == nil || filter(res) {
			out = append(out, res)
		}
	}
	return out
}

// Count returns the number of live resources of typ.
func (o *Overlay) Count(typ string) int {
	return len(o.List(typ, nil))
}

// NextID allocates the next integer id for typ. The counter is seeded on
// first use from the maximum integer-parseable id across baseline and
// overlay, so generated ids never collide with a baseline id — even after
// a soft reset clears the counter map, the next seed picks the baseline
// max back up.
func (o *Overlay) NextID(typ string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, seeded := o.counters[typ]; !seeded {
		max := o.baseline.Load().maxNumericID(typ)
		for id := range o.data[typ] {
			if n, ok := parseID(id); ok && n > max {
				max = n
			}
		}
		o.counters[typ] = max
	}
	o.counters[typ]++
	return o.counters[typ]
}

// Seed merges nested overlay data, clearing tombstones for affected ids.
// Returns the number of resources seeded per type.
func (o *Overlay) Seed(data map[string]map[string]Resource) map[string]int {
	counts := make(map[string]int, len(data))
	for typ, byID := range data {
		for id, res := range byID {
			o.Put(typ, id, res)
		}
		counts[typ] = len(byID)
	}
	return counts
}

// LoadBaseline replaces the baseline this overlay reads through and clears
// overlay data, tombstones, and counters. Called by the Router when a
// fresh baseline is bootstrapped, so every namespace observes the
// replacement consistently.
func (o *Overlay) LoadBaseline(baseline *Baseline) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.baseline.Store(baseline)
	o.data = map[string]map[string]Resource{}
	o.tombstones = map[tombstoneKey]struct{}{}
	o.counters = map[string]int{}
}

// Reset clears overlay, tombstones, and counters. The baseline survives.
func (o *Overlay) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data = map[string]map[string]Resource{}
	o.tombstones = map[tombstoneKey]struct{}{}
	o.counters = map[string]int{}
}

// ResetHard clears everything, including the baseline this overlay reads
// through (replaced with an empty one).
func (o *Overlay) ResetHard() {
	o.LoadBaseline(EmptyBaseline())
}

// Stats is the diagnostic snapshot returned by stats() / the control
// plane's /namespaces endpoint.
type Stats struct {
	BaselineCounts  map[string]int `json:"baseline_counts"`
	OverlayCounts   map[string]int `json:"overlay_counts"`
	TombstoneCount  int            `json:"tombstone_count"`
	BaselinePresent bool           `json:"baseline_present"`
}

// Stats reports baseline/overlay sizes per type, the tombstone count, and
// whether a non-empty baseline is installed.
func (o *Overlay) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	baseline := o.baseline.Load()
	overlayCounts := make(map[string]int, len(o.data))
	for typ, byID := range o.data {
		overlayCounts[typ] = len(byID)
	}
	baselineCounts := baseline.typeCounts()
	return Stats{
		BaselineCounts:  baselineCounts,
		OverlayCounts:   overlayCounts,
		TombstoneCount:  len(o.tombstones),
		BaselinePresent: len(baselineCounts) > 0,
	}
}
