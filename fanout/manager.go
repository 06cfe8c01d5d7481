// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"github.com/absmach/fanout/codec"
	"github.com/absmach/fanout/filter"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Manager hands out Fanout handles that share one configuration. Handles
// are created on first use and reused afterwards. At most
// Config.HandleCacheSize handles are kept; an evicted fanout gets a fresh
// handle on its next use, which sees the same shared state.
type Manager[V any] struct {
	base    Config[V]
	fanouts *lru.Cache[string, *Fanout[V]]
}

// NewManager returns a Manager that builds handles from base. base.Name is
// ignored.
func NewManager[V any](base Config[V]) (*Manager[V], error) {
	// Validate the shared dependencies once.
	check := base
	check.Name = "manager"
	f, err := New(check)
	if err != nil {
		return nil, err
	}

	// Share the codec and filter registry between handles.
	base.Codec = f.codec
	base.Filters = f.filters

	if base.HandleCacheSize <= 0 {
		base.HandleCacheSize = DefaultHandleCacheSize
	}
	fanouts, err := lru.New[string, *Fanout[V]](base.HandleCacheSize)
	if err != nil {
		return nil, err
	}

	return &Manager[V]{
		base:    base,
		fanouts: fanouts,
	}, nil
}

// Get returns the handle of the named fanout.
func (m *Manager[V]) Get(name string) (*Fanout[V], error) {
	if f, ok := m.fanouts.Get(name); ok {
		return f, nil
	}

	cfg := m.base
	cfg.Name = name
	created, err := New(cfg)
	if err != nil {
		return nil, err
	}

	// A concurrent Get may have stored a handle first.
	if prev, ok, _ := m.fanouts.PeekOrAdd(name, created); ok {
		return prev, nil
	}
	return created, nil
}

// Len returns the number of handles currently kept.
func (m *Manager[V]) Len() int {
	return m.fanouts.Len()
}

// Filters returns the filter registry shared by all handles.
func (m *Manager[V]) Filters() *filter.Registry[V] {
	return m.base.Filters
}

// Codec returns the codec shared by all handles.
func (m *Manager[V]) Codec() codec.Codec {
	return m.base.Codec
}
