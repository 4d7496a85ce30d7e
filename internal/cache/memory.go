// Package cache implements the two cache tiers in front of text extraction:
// a process-local LRU of extracted text and a durable, TTL-bounded store.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemorySize is the LRU capacity used when none is configured.
const DefaultMemorySize = 100

// Memory is a bounded, strictly least-recently-used map from cache key to
// extracted (decompressed) text. It is safe for concurrent use.
type Memory struct {
	// mu serializes writes so the evict callback can tell capacity
	// evictions from explicit removals.
	mu       sync.Mutex
	removing bool
	onEvict  func(key string)
	entries  *lru.Cache[string, string]
}

// NewMemory creates an LRU holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemorySize
	}
	m := &Memory{}
	entries, err := lru.NewWithEvict[string, string](capacity, m.evicted)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	m.entries = entries
	return m
}

// evicted runs synchronously inside Put, Delete and Clear, with mu held.
func (m *Memory) evicted(key, _ string) {
	if m.removing || m.onEvict == nil {
		return
	}
	m.onEvict(key)
}

// OnEvict registers a callback invoked (under the cache lock) for each
// capacity eviction. It must not call back into the cache.
func (m *Memory) OnEvict(fn func(key string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

// Get returns the text for key and marks it most recently used.
func (m *Memory) Get(key string) (string, bool) {
	return m.entries.Get(key)
}

// Put inserts or replaces the text for key, evicting the least recently
// used entry when the cache is full.
func (m *Memory) Put(key, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Add(key, text)
}

// Delete removes key if present.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removing = true
	defer func() { m.removing = false }()
	m.entries.Remove(key)
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	return m.entries.Len()
}

// Clear drops every entry. Calling it repeatedly is harmless.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removing = true
	defer func() { m.removing = false }()
	m.entries.Purge()
}
