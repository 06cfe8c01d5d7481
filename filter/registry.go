// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of compiled filters a Registry keeps.
const DefaultCacheSize = 1024

// Factory builds a Filter from its Spec.
type Factory[V any] func(spec Spec) (Filter[V], error)

// Registry maps filter kinds to factories and caches compiled filters by
// the hash of their Spec.
type Registry[V any] struct {
	mu        sync.RWMutex
	factories map[string]Factory[V]
	cache     *lru.Cache[uint64, Filter[V]]
}

// NewRegistry returns a Registry with the built-in kinds registered.
func NewRegistry[V any](cacheSize int) *Registry[V] {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	// Only fails for a non-positive size.
	cache, _ := lru.New[uint64, Filter[V]](cacheSize)

	r := &Registry[V]{
		factories: make(map[string]Factory[V]),
		cache:     cache,
	}
	r.Register(KindAccept, newAccept[V])
	r.Register(KindReject, newReject[V])
	r.Register(KindHeaders, newHeaders[V])
	r.Register(KindScript, newScript[V])

	return r
}

// Register adds or replaces the factory for kind. Replacing a kind drops
// every cached filter.
func (r *Registry[V]) Register(kind string, factory Factory[V]) {
	r.mu.Lock()
	_, replaced := r.factories[kind]
	r.factories[kind] = factory
	r.mu.Unlock()

	if replaced {
		r.cache.Purge()
	}
}

// Kinds returns the registered kinds.
func (r *Registry[V]) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	return kinds
}

// Compile returns the Filter for spec, building it on a cache miss.
func (r *Registry[V]) Compile(spec Spec) (Filter[V], error) {
	key := spec.Hash()
	if f, ok := r.cache.Get(key); ok && f.Spec().Equal(spec) {
		return f, nil
	}

	r.mu.RLock()
	factory, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, spec.Kind)
	}

	f, err := factory(spec)
	if err != nil {
		return nil, err
	}

	r.cache.Add(key, f)
	return f, nil
}

// Validate checks that spec compiles.
func (r *Registry[V]) Validate(spec Spec) error {
	_, err := r.Compile(spec)
	return err
}
