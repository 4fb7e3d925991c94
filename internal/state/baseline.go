// Package state implements the two-layer overlay-over-baseline resource
// store (spec §4.1–4.2) every fake service is built on: an immutable
// baseline shared by every namespace, and a per-namespace mutable overlay
// with copy-on-write semantics, tombstones, and auto-increment ID
// allocation.
//
// The shape mirrors how core/jobs.Queue in the teacher separates "claim
// under a transaction, parse after release" — here the equivalent split is
// "mutate under a lock, clone before handing data to the caller" so no
// goroutine can reach into the baseline or another namespace's overlay.
package state

import (
	"strconv"

	"github.com/islo-labs/doubleagent-sub000/internal/jsonval"
)

// Resource is an opaque record: a mapping from string field names to
// JSON-compatible values.
type Resource = map[string]any

// Baseline is immutable per-service reference data shared by every
// namespace. No method on Baseline ever mutates the data it was built
// with; every read hands back a deep copy (jsonval.Clone) so a caller can
// never corrupt the shared layer.
type Baseline struct {
	// data is type -> id -> resource. Treated as read-only from the
	// moment NewBaseline returns.
	data map[string]map[string]Resource
}

// NewBaseline builds a Baseline from nested data. The caller's maps are
// deep-copied so later mutation of the input by the caller (e.g. reusing a
// decode buffer) can never leak into the baseline.
func NewBaseline(data map[string]map[string]Resource) *Baseline {
	b := &Baseline{data: make(map[string]map[string]Resource, len(data))}
	for typ, byID := range data {
		b.data[typ] = jsonval.CloneResourceMap(byID)
	}
	return b
}

// EmptyBaseline returns a Baseline with no resources, used by reset_hard.
func EmptyBaseline() *Baseline {
	return &Baseline{data: map[string]map[string]Resource{}}
}

// get returns a deep copy of the resource at (typ, id), or false if absent.
func (b *Baseline) get(typ, id string) (Resource, bool) {
	byID, ok := b.data[typ]
	if !ok {
		return nil, false
	}
	res, ok := byID[id]
	if !ok {
		return nil, false
	}
	return jsonval.CloneMap(res), true
}

// list returns deep copies of every resource of typ, keyed by id.
func (b *Baseline) list(typ string) map[string]Resource {
	byID, ok := b.data[typ]
	if !ok {
		return nil
	}
	return jsonval.CloneResourceMap(byID)
}

// count returns the number of baseline resources of typ.
func (b *Baseline) count(typ string) int {
	return len(b.data[typ])
}

// maxNumericID returns the largest integer-parseable id among baseline
// resources of typ, or 0 if none parse. Both the map key and the
// resource's own "id" field count, since a baseline may key a resource
// by name (e.g. "acme/r") while its id field is numeric.
func (b *Baseline) maxNumericID(typ string) int {
	max := 0
	for key, res := range b.data[typ] {
		if n, ok := parseID(key); ok && n > max {
			max = n
		}
		var idField string
		switch v := res["id"].(type) {
		case string:
			idField = v
		case float64:
			idField = strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			idField = strconv.Itoa(v)
		}
		if n, ok := parseID(idField); ok && n > max {
			max = n
		}
	}
	return max
}

// typeCounts returns resource counts per type, used for stats() and for
// bootstrap/load_baseline responses.
func (b *Baseline) typeCounts() map[string]int {
	out := make(map[string]int, len(b.data))
	for typ, byID := range b.data {
		out[typ] = len(byID)
	}
	return out
}

func parseID(id string) (int, bool) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0, false
	}
	return n, true
}
