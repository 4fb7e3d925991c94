// Package idempotency implements the request-idempotency cache (spec
// §4.4): keyed by a client-supplied request id, it replays a prior
// response byte-for-byte instead of re-running a handler. Scope is the
// process; a soft or hard control-plane reset clears it.
package idempotency

import "sync"

// Entry is a captured response, replayed verbatim on a repeat request.
type Entry struct {
	StatusCode int
	Body       []byte
}

// Cache is a (method, request-id) -> Entry store. One lock guards both
// paths: a lookup acquires it, checks for a hit, and releases it; on a
// miss the caller runs the handler without holding the lock, then
// re-acquires it to insert (spec §5 — never hold a lock across the
// handler's own I/O).
type Cache struct {
	mu       sync.Mutex
	entries  map[string]Entry
	order    []string // insertion order, for bound eviction (oldest first)
	maxSize  int      // 0 = unbounded
}

// New creates a Cache. maxSize bounds the number of entries retained; 0
// means unbounded, the spec's default.
func New(maxSize int) *Cache {
	return &Cache{
		entries: map[string]Entry{},
		maxSize: maxSize,
	}
}

func key(method, requestID string) string {
	return method + "\x00" + requestID
}

// Lookup returns the stored entry for (method, requestID), if any. A hit
// must short-circuit the handler entirely: no state mutation, no webhook
// dispatch.
func (c *Cache) Lookup(method, requestID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key(method, requestID)]
	return e, ok
}

// Store records entry under (method, requestID), evicting the oldest
// entry first if maxSize is set and would be exceeded.
func (c *Cache) Store(method, requestID string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(method, requestID)
	if _, exists := c.entries[k]; !exists {
		if c.maxSize > 0 && len(c.order) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, k)
	}
	c.entries[k] = entry
}

// Clear empties the cache. Called on both soft and hard control-plane
// reset.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]Entry{}
	c.order = nil
}

// Len reports the number of cached entries (for diagnostics/tests).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Eligible reports whether a request is cacheable per spec §4.4: POST
// method and a non-empty request id.
func Eligible(method, requestID string) bool {
	return method == "POST" && requestID != ""
}
