// Package shardmap provides a string-keyed concurrent map sharded by key
// hash. Work on one key serializes on its shard's lock; work on keys in
// different shards proceeds in parallel with no shared lock.
package shardmap

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

type Map[V any] struct {
	shards [shardCount]shard[V]
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

func New[V any]() *Map[V] {
	m := &Map[V]{}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.shards[h.Sum32()%shardCount]
}

// Get returns the value stored for key.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Update runs fn with the current value (and whether one exists) while
// holding the key's shard lock, storing the returned value when fn reports
// true. All mutations of a key's value must go through Update so that
// concurrent updates of the same key serialize.
func (m *Map[V]) Update(key string, fn func(cur V, ok bool) (V, bool)) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[key]
	next, store := fn(cur, ok)
	if store {
		s.items[key] = next
	}
	return store
}

// View runs fn with the current value under the key's shard read lock.
// Use it when the stored value is mutated in place by Update and must not
// be read outside a lock.
func (m *Map[V]) View(key string, fn func(cur V, ok bool)) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.items[key]
	fn(cur, ok)
}

// Keys returns a snapshot of all keys.
func (m *Map[V]) Keys() []string {
	var keys []string
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	return keys
}

// Len returns the total number of stored keys.
func (m *Map[V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
