package cache

// Entry is a key and value held by an LRU.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// LRU is a fixed-capacity map that evicts its least recently used entry
// when a new key is inserted at capacity.
//
// LRU is not safe for concurrent use.
type LRU[K comparable, V any] struct {
	entries  map[K]*lruNode[K]
	values   map[K]V
	order    *lruList[K]
	capacity int

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewLRU creates an LRU holding at most capacity entries.
// A capacity below 1 is treated as 1.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		entries:  make(map[K]*lruNode[K], capacity),
		values:   make(map[K]V, capacity),
		order:    newLRUList[K](),
		capacity: capacity,
	}
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	node, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.MoveToFront(node)
	return c.values[key], true
}

// Peek returns the value for key without touching its recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Put stores value under key as the most recently used entry.
// When a new key is inserted at capacity the least recently used entry is
// removed and returned so the caller can release it.
func (c *LRU[K, V]) Put(key K, value V) (evicted Entry[K, V], ok bool) {
	if node, exists := c.entries[key]; exists {
		c.values[key] = value
		c.order.MoveToFront(node)
		return evicted, false
	}
	if c.order.Len() >= c.capacity {
		if oldKey, found := c.order.RemoveOldest(); found {
			evicted = Entry[K, V]{Key: oldKey, Value: c.values[oldKey]}
			delete(c.entries, oldKey)
			delete(c.values, oldKey)
			c.evictions++
			ok = true
		}
	}
	c.entries[key] = c.order.PushFront(key)
	c.values[key] = value
	return evicted, ok
}

// Remove deletes key and returns its value.
func (c *LRU[K, V]) Remove(key K) (V, bool) {
	node, exists := c.entries[key]
	if !exists {
		var zero V
		return zero, false
	}
	v := c.values[key]
	c.order.Remove(node)
	delete(c.entries, key)
	delete(c.values, key)
	return v, true
}

// Oldest returns the least recently used entry.
func (c *LRU[K, V]) Oldest() (Entry[K, V], bool) {
	key, ok := c.order.Oldest()
	if !ok {
		return Entry[K, V]{}, false
	}
	return Entry[K, V]{Key: key, Value: c.values[key]}, true
}

// Entries returns every entry from most to least recently used.
func (c *LRU[K, V]) Entries() []Entry[K, V] {
	out := make([]Entry[K, V], 0, c.order.Len())
	for n := c.order.head; n != nil; n = n.next {
		out = append(out, Entry[K, V]{Key: n.key, Value: c.values[n.key]})
	}
	return out
}

// Clear removes every entry and returns them from most to least recently
// used.
func (c *LRU[K, V]) Clear() []Entry[K, V] {
	out := c.Entries()
	c.entries = make(map[K]*lruNode[K], c.capacity)
	c.values = make(map[K]V, c.capacity)
	c.order.Clear()
	return out
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int { return c.order.Len() }

// Capacity returns the maximum number of entries.
func (c *LRU[K, V]) Capacity() int { return c.capacity }

// Stats returns usage counters.
func (c *LRU[K, V]) Stats() Stats {
	s := Stats{
		Len:       c.order.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the maximum number of entries.
	Capacity int
	// Hits is the number of Get calls that found their key.
	Hits uint64
	// Misses is the number of Get calls that did not.
	Misses uint64
	// HitRate is Hits over all Get calls, 0.0 to 1.0.
	HitRate float64
	// Evictions is the number of entries displaced by Put.
	Evictions uint64
}
