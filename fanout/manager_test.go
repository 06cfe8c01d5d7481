// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/absmach/fanout/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_Validates(t *testing.T) {
	_, err := NewManager(Config[order]{})
	assert.Error(t, err)
}

func TestManager_Get(t *testing.T) {
	e := newEnv(t)
	m, err := NewManager(Config[order]{Store: e.store, Queues: e.queues})
	require.NoError(t, err)

	a, err := m.Get("orders")
	require.NoError(t, err)
	b, err := m.Get("orders")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "orders", a.Name())

	c, err := m.Get("payments")
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	_, err = m.Get("")
	assert.Error(t, err)
}

func TestManager_ConcurrentGet(t *testing.T) {
	e := newEnv(t)
	m, err := NewManager(Config[order]{Store: e.store, Queues: e.queues})
	require.NoError(t, err)

	handles := make([]*Fanout[order], 16)
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i], _ = m.Get("orders")
		}()
	}
	wg.Wait()

	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestManager_SharedFilters(t *testing.T) {
	e := newEnv(t)
	m, err := NewManager(Config[order]{Store: e.store, Queues: e.queues})
	require.NoError(t, err)

	m.Filters().Register("eu", func(spec filter.Spec) (filter.Filter[order], error) {
		return filter.NewFunc(spec, func(o order, _ map[string]string) (bool, error) {
			return o.Region == "eu", nil
		}), nil
	})

	f, err := m.Get("orders")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = f.SubscribeQueueWithFilter(ctx, "eu-orders", filter.Spec{Kind: "eu"})
	require.NoError(t, err)

	_, err = f.Publish(ctx, Payload(order{ID: "1", Region: "eu"}))
	require.NoError(t, err)
	_, err = f.Publish(ctx, Payload(order{ID: "2", Region: "us"}))
	require.NoError(t, err)

	got := e.drain(t, "eu-orders")
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].Payload.ID)
}

func TestManager_HandlesAreBounded(t *testing.T) {
	e := newEnv(t)
	m, err := NewManager(Config[order]{Store: e.store, Queues: e.queues, HandleCacheSize: 2})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := m.Get("a")
	require.NoError(t, err)
	_, err = first.SubscribeQueue(ctx, "q1")
	require.NoError(t, err)

	for i := range 10 {
		_, err := m.Get(fmt.Sprintf("f%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, m.Len())

	// An evicted fanout gets a new handle over the same state.
	again, err := m.Get("a")
	require.NoError(t, err)
	assert.NotSame(t, first, again)

	subscribed, err := again.IsSubscribed(ctx, "q1")
	require.NoError(t, err)
	assert.True(t, subscribed)
}
