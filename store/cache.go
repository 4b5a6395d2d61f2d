package store

import (
	"math/rand"
	"sync"

	"github.com/c2h5oh/datasize"
)

// cacheEntry holds one cached relation value plus the bookkeeping the
// second-chance eviction cycle needs: the read/write timestamps
// observed at cache time and a byte-size estimate (spec §4.1:
// "Cache entries carry (read_ts, write_ts, size_bytes)").
type cacheEntry[V any] struct {
	value   V
	readTS  Timestamp
	writeTS Timestamp
	size    datasize.ByteSize
	hits    uint64
}

// Cache is a size-bounded, second-chance ("CLOCK") value cache keyed
// by domain key K. Eviction runs in two phases: a sampling cycle
// selects a victim-candidate list of random entries, and a later
// cycle evicts candidates whose hit count has not increased since
// they were sampled — entries that were touched again in the
// meantime get a second chance and stay cached.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	budget   datasize.ByteSize
	used     datasize.ByteSize
	entries  map[K]*cacheEntry[V]
	keys     []K // stable iteration order for sampling
	victims  map[K]uint64
	preseed  []K
}

// NewCache creates a cache with the given byte budget.
func NewCache[K comparable, V any](budget datasize.ByteSize) *Cache[K, V] {
	return &Cache[K, V]{
		budget:  budget,
		entries: make(map[K]*cacheEntry[V]),
		victims: make(map[K]uint64),
	}
}

// Get returns the cached value for key, recording a cache hit used by
// the second-chance eviction policy.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.hits++
	return e.value, true
}

// GetAsOf returns the cached value for key only if it's valid for a
// read as-of asOf: the cache always holds the latest committed
// version (applyCommit overwrites it on every commit), so a cached
// entry answers a snapshot read correctly whenever its write
// timestamp is at or before asOf — anything newer means the read
// needs an older version the cache doesn't keep, so the caller must
// fall back to the relation's full version chain.
func (c *Cache[K, V]) GetAsOf(key K, asOf Timestamp) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.writeTS > asOf {
		var zero V
		return zero, false
	}
	e.hits++
	return e.value, true
}

// Put inserts or replaces a cached value, running an eviction cycle
// first if the cache is over budget.
func (c *Cache[K, V]) Put(key K, value V, readTS, writeTS Timestamp, size datasize.ByteSize) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.used -= old.size
	} else {
		c.keys = append(c.keys, key)
	}
	c.entries[key] = &cacheEntry[V]{value: value, readTS: readTS, writeTS: writeTS, size: size}
	c.used += size

	if c.used > c.budget {
		c.runEvictionCycleLocked()
	}
}

// Preseed registers hot keys on the cache; PreseedKeys reads them
// back. Opening a transaction (Store.Begin) does not consult this
// list, so registered keys are not copied into a new transaction's
// working set.
func (c *Cache[K, V]) Preseed(keys ...K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preseed = append(c.preseed, keys...)
}

// PreseedKeys returns the currently registered preseed key list.
func (c *Cache[K, V]) PreseedKeys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]K, len(c.preseed))
	copy(out, c.preseed)
	return out
}

// runEvictionCycleLocked implements the two-phase second-chance
// sweep. Caller must hold c.mu.
func (c *Cache[K, V]) runEvictionCycleLocked() {
	// Phase 1: evict anything already in the victim list whose hit
	// count has not advanced since it was sampled.
	for k, sampledHits := range c.victims {
		e, ok := c.entries[k]
		if !ok {
			delete(c.victims, k)
			continue
		}
		if e.hits <= sampledHits {
			c.used -= e.size
			delete(c.entries, k)
			delete(c.victims, k)
			c.removeKeyLocked(k)
		} else {
			delete(c.victims, k) // got a second chance; re-sample fresh next time
		}
		if c.used <= c.budget {
			return
		}
	}

	// Phase 2: sample a fresh victim list for the next cycle.
	if len(c.keys) == 0 {
		return
	}
	sampleSize := len(c.keys) / 8
	if sampleSize < 1 {
		sampleSize = 1
	}
	if sampleSize > len(c.keys) {
		sampleSize = len(c.keys)
	}
	for i := 0; i < sampleSize; i++ {
		k := c.keys[rand.Intn(len(c.keys))]
		if e, ok := c.entries[k]; ok {
			c.victims[k] = e.hits
		}
	}
}

func (c *Cache[K, V]) removeKeyLocked(key K) {
	for i, k := range c.keys {
		if k == key {
			c.keys[i] = c.keys[len(c.keys)-1]
			c.keys = c.keys[:len(c.keys)-1]
			return
		}
	}
}

// Len reports how many entries are currently cached (test/metrics use).
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
