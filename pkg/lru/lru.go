package lru

import (
	"container/list"
	"sync"
)

// SizeFunc reports the memory footprint of a cached value in bytes.
// Used only when the cache has a byte budget.
type SizeFunc[V any] func(v V) int

// EvictFunc is invoked for every entry removed by capacity pressure.
// It runs while the cache lock is held, so it must not call back into
// the cache.
type EvictFunc[K comparable, V any] func(key K, value V)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
	Bytes     int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int
}

// Cache is a mutex-guarded LRU cache bounded by entry count and,
// optionally, a byte budget. Zero for either bound disables it.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	sizeFn     SizeFunc[V]
	onEvict    EvictFunc[K, V]

	ll    *list.List
	items map[K]*list.Element

	bytes     int64
	hits      uint64
	misses    uint64
	evictions uint64
}

type Option[K comparable, V any] func(*Cache[K, V])

// WithByteBudget bounds the cache by total value size. sizeFn must be
// provided alongside the budget.
func WithByteBudget[K comparable, V any](maxBytes int64, sizeFn SizeFunc[V]) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.maxBytes = maxBytes
		c.sizeFn = sizeFn
	}
}

// WithOnEvict registers a callback for capacity evictions. Explicit
// Remove calls do not trigger it.
func WithOnEvict[K comparable, V any](fn EvictFunc[K, V]) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

func New[K comparable, V any](maxEntries int, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[K]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return el.Value.(*entry[K, V]).value, true
}

// Put inserts or replaces a value, then evicts least-recently-used
// entries until both bounds hold again.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := 0
	if c.sizeFn != nil {
		size = c.sizeFn(value)
	}

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		c.bytes += int64(size - ent.size)
		ent.value = value
		ent.size = size
		c.ll.MoveToFront(el)
		c.enforce()
		return
	}

	el := c.ll.PushFront(&entry[K, V]{key: key, value: value, size: size})
	c.items[key] = el
	c.bytes += int64(size)
	c.enforce()
}

// Remove deletes an entry without counting it as an eviction.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.detach(el)
	return true
}

// Keys returns all cached keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.items),
		Bytes:     c.bytes,
	}
}

// enforce evicts from the back until entry and byte bounds hold.
// Caller holds the lock.
func (c *Cache[K, V]) enforce() {
	for c.overBudget() {
		el := c.ll.Back()
		if el == nil {
			return
		}
		ent := el.Value.(*entry[K, V])
		c.detach(el)
		c.evictions++
		if c.onEvict != nil {
			c.onEvict(ent.key, ent.value)
		}
	}
}

func (c *Cache[K, V]) overBudget() bool {
	if c.maxEntries > 0 && len(c.items) > c.maxEntries {
		return true
	}
	if c.maxBytes > 0 && c.bytes > c.maxBytes {
		return true
	}
	return false
}

func (c *Cache[K, V]) detach(el *list.Element) {
	ent := el.Value.(*entry[K, V])
	c.ll.Remove(el)
	delete(c.items, ent.key)
	c.bytes -= int64(ent.size)
}
