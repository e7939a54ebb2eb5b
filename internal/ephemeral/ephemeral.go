// Package ephemeral provides an in-memory TTL keyed store for short-lived
// conversational state. Entries vanish on expiry; nothing is persisted.
package ephemeral

import (
	"context"
	"sync"
	"time"
)

// Store holds values of type V keyed by string, each with its own deadline.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	nowFn   func() time.Time
}

type entry[V any] struct {
	value    V
	deadline time.Time
}

// NewStore returns a Store whose entries live for ttl.
func NewStore[V any](ttl time.Duration) *Store[V] {
	return &Store[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		nowFn:   time.Now,
	}
}

// Put stores value under key, resetting its deadline.
func (store *Store[V]) Put(key string, value V) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.entries[key] = entry[V]{value: value, deadline: store.nowFn().Add(store.ttl)}
}

// Get returns the live value under key. Expired entries are removed on read.
func (store *Store[V]) Get(key string) (V, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()
	found, ok := store.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if store.nowFn().After(found.deadline) {
		delete(store.entries, key)
		var zero V
		return zero, false
	}
	return found.value, true
}

// Take returns and removes the live value under key.
func (store *Store[V]) Take(key string) (V, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()
	found, ok := store.entries[key]
	if !ok || store.nowFn().After(found.deadline) {
		delete(store.entries, key)
		var zero V
		return zero, false
	}
	delete(store.entries, key)
	return found.value, true
}

// Delete removes key.
func (store *Store[V]) Delete(key string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.entries, key)
}

// Sweep drops every expired entry and reports how many were removed.
func (store *Store[V]) Sweep() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	now := store.nowFn()
	removed := 0
	for key, found := range store.entries {
		if now.After(found.deadline) {
			delete(store.entries, key)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (store *Store[V]) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Sweep()
		}
	}
}
