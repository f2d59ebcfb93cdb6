package engine

import "sync"

// Cache is a content-addressed store of prior successful results, keyed
// by source digest. Eviction is strict FIFO by insertion order: no
// access-time bookkeeping, O(1) insert and evict, predictable behavior
// under adversarial repeated lookups.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]Result
	order    []string
}

// NewCache creates a cache bounded to the given capacity
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]Result),
	}
}

// Lookup returns the cached result for a digest, if present
func (c *Cache) Lookup(digest string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, ok := c.entries[digest]
	return res, ok
}

// Store records a result under a digest. Only clean successes are kept:
// failures and timeouts may be transient artifacts of the execution
// environment rather than deterministic functions of the code. Storing
// under an already-present digest replaces the value without a second
// insertion-order entry, so a key is never evicted twice.
func (c *Cache) Store(digest string, res Result) {
	if !res.Success || res.Error != "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[digest]; exists {
		c.entries[digest] = res
		return
	}

	c.entries[digest] = res
	c.order = append(c.order, digest)

	if len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
