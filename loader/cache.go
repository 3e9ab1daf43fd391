package loader

import "sync"

// Cache memoizes the [Thunk] handed out for a key. Implementations must be
// safe for concurrent use.
type Cache[K comparable, V any] interface {
	Get(key K) (Thunk[V], bool)
	Set(key K, thunk Thunk[V])
	Delete(key K)
	Clear()
}

// MapCache is an unbounded in-memory [Cache].
type MapCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]Thunk[V]
}

// NewMapCache creates an empty [MapCache].
func NewMapCache[K comparable, V any]() *MapCache[K, V] {
	return &MapCache[K, V]{entries: make(map[K]Thunk[V])}
}

func (c *MapCache[K, V]) Get(key K) (Thunk[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.entries[key]
	return t, ok
}

func (c *MapCache[K, V]) Set(key K, thunk Thunk[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = thunk
}

func (c *MapCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *MapCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of cached keys.
func (c *MapCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// NoCache is a [Cache] that never remembers anything.
type NoCache[K comparable, V any] struct{}

func (NoCache[K, V]) Get(K) (Thunk[V], bool) { return nil, false }
func (NoCache[K, V]) Set(K, Thunk[V])        {}
func (NoCache[K, V]) Delete(K)               {}
func (NoCache[K, V]) Clear()                 {}
