package loader

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// RistrettoConfig configures a [RistrettoCache].
type RistrettoConfig struct {
	// MaxEntries bounds the number of memoized keys. Defaults to 10000.
	MaxEntries int64

	// KeyString converts a key into the string ristretto hashes. Keys whose
	// strings collide evict each other but are never confused. Defaults to
	// the key's Go syntax representation, qualified by its dynamic type.
	KeyString func(any) string
}

// RistrettoCache is a bounded [Cache] backed by ristretto. Admission is
// probabilistic, so a key may be fetched more than once under pressure, but
// a cached key is never resolved from a different key's result.
type RistrettoCache[K comparable, V any] struct {
	cache     *ristretto.Cache[string, ristrettoEntry[K, V]]
	keyString func(any) string
}

// ristrettoEntry keeps the key next to its thunk, so a hit for a colliding
// key string is detected.
type ristrettoEntry[K comparable, V any] struct {
	key   K
	thunk Thunk[V]
}

// NewRistrettoCache creates a bounded cache. Close releases its goroutines.
func NewRistrettoCache[K comparable, V any](cfg RistrettoConfig) (*RistrettoCache[K, V], error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.KeyString == nil {
		cfg.KeyString = func(k any) string { return fmt.Sprintf("%T:%#v", k, k) }
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, ristrettoEntry[K, V]]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("loader: create ristretto cache: %w", err)
	}

	return &RistrettoCache[K, V]{cache: c, keyString: cfg.KeyString}, nil
}

func (c *RistrettoCache[K, V]) Get(key K) (Thunk[V], bool) {
	e, ok := c.cache.Get(c.keyString(key))
	if !ok || e.key != key {
		return nil, false
	}
	return e.thunk, true
}

// Set stores the thunk and waits for ristretto's write buffer, so a
// concurrent Load for the same key observes it.
func (c *RistrettoCache[K, V]) Set(key K, thunk Thunk[V]) {
	if c.cache.Set(c.keyString(key), ristrettoEntry[K, V]{key: key, thunk: thunk}, 1) {
		c.cache.Wait()
	}
}

// Delete removes key, leaving an entry stored by a colliding key in place.
func (c *RistrettoCache[K, V]) Delete(key K) {
	ks := c.keyString(key)
	if e, ok := c.cache.Get(ks); ok && e.key == key {
		c.cache.Del(ks)
	}
}

func (c *RistrettoCache[K, V]) Clear() {
	c.cache.Clear()
}

// Close stops the cache's background goroutines.
func (c *RistrettoCache[K, V]) Close() {
	c.cache.Close()
}
