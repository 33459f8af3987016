// Package refresh keeps near-expiry cache entries warm: the revalidator
// piggybacks on request traffic, the prefetcher works the hottest keys
// independently of it.
package refresh

import (
	"context"
	"sync"
)

// Fetcher re-runs the upstream fetch that originally produced a key's
// payload.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Registry remembers the most recently seen fetcher per cache key. The
// revalidator populates it as a side channel so the prefetcher can refresh
// keys without any request traffic.
type Registry[T any] struct {
	fetchers map[string]Fetcher[T]
	mu       sync.RWMutex
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		fetchers: make(map[string]Fetcher[T]),
	}
}

func (r *Registry[T]) Register(key string, fetcher Fetcher[T]) {
	if key == "" || fetcher == nil {
		return
	}

	r.mu.Lock()
	r.fetchers[key] = fetcher
	r.mu.Unlock()
}

func (r *Registry[T]) Get(key string) (Fetcher[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fetcher, exists := r.fetchers[key]
	return fetcher, exists
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fetchers)
}

// Reset drops all fetchers. Test helper.
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers = make(map[string]Fetcher[T])
}
