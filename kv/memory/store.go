// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/absmach/fanout/kv"
	"github.com/puzpuzpuz/xsync/v3"
)

var _ kv.Store = (*Store)(nil)

type item struct {
	value    []byte
	revision int64
	expireAt time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.expireAt.IsZero() && !now.Before(i.expireAt)
}

// Store is an in-process kv.Store. Every handle that shares a Store instance
// observes the same state, which makes it suitable for single-node
// deployments and tests.
type Store struct {
	items    *xsync.MapOf[string, item]
	revision atomic.Int64
	closed   atomic.Bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		items: xsync.NewMapOf[string, item](),
	}
}

func (s *Store) Get(ctx context.Context, key string) (*kv.Entry, error) {
	if s.closed.Load() {
		return nil, kv.ErrClosed
	}

	it, ok := s.items.Load(key)
	if !ok || it.expired(time.Now()) {
		return nil, kv.ErrNotFound
	}

	value := make([]byte, len(it.value))
	copy(value, it.value)
	return &kv.Entry{Key: key, Value: value, Revision: it.revision}, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, rev int64, value []byte) error {
	if s.closed.Load() {
		return kv.ErrClosed
	}

	data := make([]byte, len(value))
	copy(data, value)

	now := time.Now()
	swapped := false
	s.items.Compute(key, func(old item, loaded bool) (item, bool) {
		live := loaded && !old.expired(now)
		current := int64(0)
		if live {
			current = old.revision
		}
		if current != rev {
			// Expired items are dropped, live ones kept.
			return old, !live
		}

		swapped = true
		next := item{value: data, revision: s.revision.Add(1)}
		if live {
			next.expireAt = old.expireAt
		}
		return next, false
	})

	if !swapped {
		return kv.ErrConflict
	}
	return nil
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, kv.ErrClosed
	}

	data := make([]byte, len(value))
	copy(data, value)

	now := time.Now()
	stored := false
	s.items.Compute(key, func(old item, loaded bool) (item, bool) {
		if loaded && !old.expired(now) {
			return old, false
		}

		stored = true
		next := item{value: data, revision: s.revision.Add(1)}
		if ttl > 0 {
			next.expireAt = now.Add(ttl)
		}
		return next, false
	})

	return stored, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if s.closed.Load() {
		return false, kv.ErrClosed
	}

	it, ok := s.items.LoadAndDelete(key)
	return ok && !it.expired(time.Now()), nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, kv.ErrClosed
	}

	now := time.Now()
	found := false
	s.items.Compute(key, func(old item, loaded bool) (item, bool) {
		if !loaded || old.expired(now) {
			return old, true
		}

		found = true
		old.expireAt = time.Time{}
		if ttl > 0 {
			old.expireAt = now.Add(ttl)
		}
		return old, false
	})

	return found, nil
}

// Close marks the store closed. Subsequent calls return kv.ErrClosed.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
