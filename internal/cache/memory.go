package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is a process-wide TTL cache safe for concurrent use.
type Memory struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewMemory creates a cache whose entries expire after ttl.
func NewMemory(ttl, cleanupInterval time.Duration) *Memory {
	return &Memory{cache: gocache.New(ttl, cleanupInterval), ttl: ttl}
}

// Get retrieves a value from the cache
func (c *Memory) Get(key string) (any, bool) {
	return c.cache.Get(key)
}

// Set stores a value with the default TTL
func (c *Memory) Set(key string, value any) {
	c.cache.Set(key, value, gocache.DefaultExpiration)
}

// Delete removes a value from the cache
func (c *Memory) Delete(key string) {
	c.cache.Delete(key)
}

// Len reports the number of cached items, including expired ones not yet cleaned up.
func (c *Memory) Len() int {
	return c.cache.ItemCount()
}

// Clear removes all values from the cache
func (c *Memory) Clear() {
	c.cache.Flush()
}

// Key hashes the parts into a stable cache key. Parts are length-prefixed so
// ("ab","c") and ("a","bc") differ.
func Key(namespace string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		var n [8]byte
		l := uint64(len(p))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

// Typed is a typed view over Memory for one value type.
type Typed[T any] struct {
	m *Memory
}

func NewTyped[T any](m *Memory) Typed[T] { return Typed[T]{m: m} }

func (t Typed[T]) Get(key string) (T, bool) {
	var zero T
	if t.m == nil {
		return zero, false
	}
	v, ok := t.m.Get(key)
	if !ok {
		return zero, false
	}
	out, ok := v.(T)
	return out, ok
}

func (t Typed[T]) Set(key string, v T) {
	if t.m != nil {
		t.m.Set(key, v)
	}
}
