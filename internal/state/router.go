package state

import "sync"

// DefaultNamespace is used when a caller omits the namespace header.
const DefaultNamespace = "default"

// Router holds one shared Baseline and a namespace -> Overlay map. Lock
// ordering is map-then-overlay: Router.mu is never held while calling into
// an Overlay's own lock, so a slow overlay operation never blocks
// namespace lookups for unrelated namespaces (spec §5).
type Router struct {
	mu         sync.RWMutex
	baseline   *Baseline
	namespaces map[string]*Overlay
}

// NewRouter creates a Router over baseline (may be EmptyBaseline()).
func NewRouter(baseline *Baseline) *Router {
	if baseline == nil {
		baseline = EmptyBaseline()
	}
	return &Router{
		baseline:   baseline,
		namespaces: map[string]*Overlay{},
	}
}

func normalizeNamespace(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

// GetState returns the overlay for ns, lazily creating it. Every new
// overlay is built against the Router's current baseline reference — the
// baseline itself is never copied per namespace.
func (r *Router) GetState(ns string) *Overlay {
	ns = normalizeNamespace(ns)

	r.mu.RLock()
	o, ok := r.namespaces[ns]
	r.mu.RUnlock()
	if ok {
		return o
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.namespaces[ns]; ok { // re-check under write lock
		return o
	}
	o = newOverlay(r.baseline)
	r.namespaces[ns] = o
	return o
}

// LoadBaseline installs a new baseline and propagates the replacement to
// every existing namespace so cached counters/tombstones clear
// consistently everywhere. Returns the per-type resource counts of the
// new baseline.
func (r *Router) LoadBaseline(data map[string]map[string]Resource) map[string]int {
	baseline := NewBaseline(data)

	r.mu.Lock()
	r.baseline = baseline
	overlays := make([]*Overlay, 0, len(r.namespaces))
	for _, o := range r.namespaces {
		overlays = append(overlays, o)
	}
	r.mu.Unlock()

	// Overlay locks are acquired only after the map lock is released.
	for _, o := range overlays {
		o.LoadBaseline(baseline)
	}
	return baseline.typeCounts()
}

// ResetNamespace resets ns (soft, or hard if hard is true). A namespace
// with no prior activity is created lazily, matching GetState.
func (r *Router) ResetNamespace(ns string, hard bool) {
	o := r.GetState(ns)
	if hard {
		o.ResetHard()
	} else {
		o.Reset()
	}
}

// ResetAll resets every existing namespace.
func (r *Router) ResetAll(hard bool) {
	r.mu.RLock()
	overlays := make([]*Overlay, 0, len(r.namespaces))
	for _, o := range r.namespaces {
		overlays = append(overlays, o)
	}
	r.mu.RUnlock()

	for _, o := range overlays {
		if hard {
			o.ResetHard()
		} else {
			o.Reset()
		}
	}
}

// DeleteNamespace removes ns entirely. Returns whether it existed.
func (r *Router) DeleteNamespace(ns string) bool {
	ns = normalizeNamespace(ns)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.namespaces[ns]
	delete(r.namespaces, ns)
	return existed
}

// NamespaceInfo pairs a namespace key with its current stats, returned by
// ListNamespaces and the control plane's /namespaces endpoint.
type NamespaceInfo struct {
	Namespace string `json:"namespace"`
	Stats     Stats  `json:"stats"`
}

// ListNamespaces lists active namespaces with their stats.
func (r *Router) ListNamespaces() []NamespaceInfo {
	r.mu.RLock()
	type entry struct {
		ns string
		o  *Overlay
	}
	entries := make([]entry, 0, len(r.namespaces))
	for ns, o := range r.namespaces {
		entries = append(entries, entry{ns, o})
	}
	r.mu.RUnlock()

	// Overlay locks are acquired only after the map lock is released.
	out := make([]NamespaceInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, NamespaceInfo{Namespace: e.ns, Stats: e.o.Stats()})
	}
	return out
}
