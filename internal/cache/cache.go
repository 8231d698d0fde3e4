package cache

import "sync"

// EvictFunc receives entries leaving the cache through eviction, Delete,
// RemoveIf or Clear. It runs with the cache lock held and must not call
// back into the cache.
type EvictFunc[K comparable, V any] func(key K, value V)

// Cache is a generic thread-safe LRU cache. When Len exceeds the limit, the
// least recently used entries are evicted one at a time.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*lruNode[K, V]
	order   lruList[K, V]
	limit   int
	onEvict EvictFunc[K, V]

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a cache holding at most limit entries. A limit of 0 means
// unlimited. onEvict may be nil.
func New[K comparable, V any](limit int, onEvict EvictFunc[K, V]) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]*lruNode[K, V]),
		limit:   limit,
		onEvict: onEvict,
	}
}

// Get retrieves a value and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.moveToFront(node)
	return node.value, true
}

// Set stores a value. A replaced value is passed to the eviction callback.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.entries[key]; ok {
		old := node.value
		node.value = value
		c.order.moveToFront(node)
		if c.onEvict != nil {
			c.onEvict(key, old)
		}
		return
	}
	c.insertLocked(key, value)
}

// GetOrCreate returns the cached value or builds it with create. create runs
// under the lock so concurrent callers never build the same key twice. A
// failed create caches nothing.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.entries[key]; ok {
		c.hits++
		c.order.moveToFront(node)
		return node.value, nil
	}
	c.misses++
	value, err := create()
	if err != nil {
		return value, err
	}
	c.insertLocked(key, value)
	return value, nil
}

// Delete removes an entry. Returns true if it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(node)
	return true
}

// RemoveIf removes every entry for which match returns true and returns how
// many were removed.
func (c *Cache[K, V]) RemoveIf(match func(key K, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for node := c.order.head; node != nil; {
		next := node.next
		if match(node.key, node.value) {
			c.removeLocked(node)
			n++
		}
		node = next
	}
	return n
}

// Clear removes all entries, passing each to the eviction callback.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvict != nil {
		for node := c.order.head; node != nil; node = node.next {
			c.onEvict(node.key, node.value)
		}
	}
	c.entries = make(map[K]*lruNode[K, V])
	c.order.clear()
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the entry limit.
func (c *Cache[K, V]) Capacity() int {
	return c.limit
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Len:       len(c.entries),
		Capacity:  c.limit,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache[K, V]) insertLocked(key K, value V) {
	node := &lruNode[K, V]{key: key, value: value}
	c.entries[key] = node
	c.order.pushFront(node)
	for c.limit > 0 && len(c.entries) > c.limit {
		oldest := c.order.back()
		c.removeLocked(oldest)
		c.evictions++
	}
}

// removeLocked unlinks node and reports it to the callback.
// Caller must hold c.mu.
func (c *Cache[K, V]) removeLocked(node *lruNode[K, V]) {
	c.order.unlink(node)
	delete(c.entries, node.key)
	if c.onEvict != nil {
		c.onEvict(node.key, node.value)
	}
}

// Stats contains cache statistics.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	HitRate   float64
	Evictions uint64
}
