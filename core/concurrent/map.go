// Package concurrent provides a mutex-backed keyed container with
// functional atomic compound operations, generalizing the Rust
// source's FuncMap<K, V> (src/concurrent.rs) to Go generics.
package concurrent

import (
	"sync"

	"go.uber.org/zap"
)

// Map is a thread-safe keyed container. All mutations serialize on a
// single internal lock; the trade-off is simplicity over lock-free
// throughput. A panicking predicate passed to FindRemove or RetainWith
// is recovered and logged rather than allowed to propagate — the
// operation reports as a no-op, mirroring how the Rust source treats a
// poisoned Mutex as "lock.ok()?" rather than a process abort.
type Map[K comparable, V any] struct {
	mu   sync.Mutex
	data map[K]V
	log  *zap.Logger
}

// New creates an empty Map. A nil logger is replaced with a no-op one.
func New[K comparable, V any](log *zap.Logger) *Map[K, V] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Map[K, V]{data: make(map[K]V), log: log}
}

// Insert stores value under key, returning the prior value if present.
func (m *Map[K, V]) Insert(key K, value V) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, had := m.data[key]
	m.data[key] = value
	return old, had
}

// Remove deletes key, returning the removed value if present.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, had := m.data[key]
	if had {
		delete(m.data, key)
	}
	return old, had
}

// Get returns the value stored under key, if any.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// FindRemove atomically finds the first entry matching pred and
// removes it. Iteration order is unspecified but the find-then-remove
// pair is atomic with respect to other Map operations.
func (m *Map[K, V]) FindRemove(pred func(K, V) bool) (key K, value V, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.log.Error("recovered panic in FindRemove predicate", zap.Any("panic", r))
			ok = false
		}
	}()

	for k, v := range m.data {
		if pred(k, v) {
			delete(m.data, k)
			return k, v, true
		}
	}
	return key, value, false
}

// RetainWith drops every entry for which pred returns false, returning
// the number of entries removed.
func (m *Map[K, V]) RetainWith(pred func(K, V) bool) (removed int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.log.Error("recovered panic in RetainWith predicate", zap.Any("panic", r))
			removed = 0
		}
	}()

	var toDelete []K
	for k, v := range m.data {
		if !pred(k, v) {
			toDelete = append(toDelete, k)
		}
	}
	for _, k := range toDelete {
		delete(m.data, k)
	}
	return len(toDelete)
}

// Snapshot returns a shallow copy of the current key/value pairs.
func (m *Map[K, V]) Snapshot() map[K]V {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[K]V, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
