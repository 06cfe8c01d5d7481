// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fanout/queue/storage"
	"github.com/absmach/fanout/queue/storage/memory"
	"github.com/absmach/fanout/queue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, autoCreate bool) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		Store:      memory.New(),
		Defaults:   types.QueueConfig{MaxSize: 2},
		AutoCreate: autoCreate,
	})
	require.NoError(t, err)
	return m
}

func testMessage(id string) *types.Message {
	return &types.Message{ID: id, Data: []byte(id), CreatedAt: time.Now()}
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Config{})
	assert.Error(t, err)

	_, err = NewManager(Config{Store: memory.New(), Defaults: types.QueueConfig{MaxSize: -1}})
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestManager_TryEnqueue_AutoCreate(t *testing.T) {
	m := newTestManager(t, true)
	ctx := context.Background()

	for _, id := range []string{"1", "2"} {
		adm, err := m.TryEnqueue(ctx, "orders", testMessage(id))
		require.NoError(t, err)
		assert.Equal(t, types.Accepted, adm)
	}

	// Defaults apply to auto-created queues.
	adm, err := m.TryEnqueue(ctx, "orders", testMessage("3"))
	require.NoError(t, err)
	assert.Equal(t, types.RejectedFull, adm)

	config, err := m.GetQueue(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", config.Name)
	assert.Equal(t, int64(2), config.MaxSize)
}

func TestManager_TryEnqueue_NoAutoCreate(t *testing.T) {
	m := newTestManager(t, false)

	_, err := m.TryEnqueue(context.Background(), "orders", testMessage("1"))
	assert.ErrorIs(t, err, storage.ErrQueueNotFound)
}

func TestManager_PutQueue(t *testing.T) {
	m := newTestManager(t, false)
	ctx := context.Background()

	require.NoError(t, m.PutQueue(ctx, types.QueueConfig{Name: "orders", MaxSize: 1}))

	adm, err := m.TryEnqueue(ctx, "orders", testMessage("1"))
	require.NoError(t, err)
	assert.Equal(t, types.Accepted, adm)

	adm, err = m.TryEnqueue(ctx, "orders", testMessage("2"))
	require.NoError(t, err)
	assert.Equal(t, types.RejectedFull, adm)

	// Raising the limit takes effect immediately.
	require.NoError(t, m.PutQueue(ctx, types.QueueConfig{Name: "orders", MaxSize: 5}))

	adm, err = m.TryEnqueue(ctx, "orders", testMessage("2"))
	require.NoError(t, err)
	assert.Equal(t, types.Accepted, adm)

	err = m.PutQueue(ctx, types.QueueConfig{Name: "orders", MaxSize: -1})
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestManager_PollAndStats(t *testing.T) {
	m := newTestManager(t, true)
	ctx := context.Background()

	_, err := m.TryEnqueue(ctx, "orders", testMessage("1"))
	require.NoError(t, err)
	_, err = m.TryEnqueue(ctx, "orders", testMessage("2"))
	require.NoError(t, err)

	stats, err := m.GetStats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, &QueueStats{Name: "orders", Depth: 2, MaxSize: 2}, stats)

	msgs, err := m.Poll(ctx, "orders", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", msgs[0].ID)

	stats, err = m.GetStats(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Depth)

	_, err = m.GetStats(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrQueueNotFound)
}

func TestManager_DeleteAndList(t *testing.T) {
	m := newTestManager(t, true)
	ctx := context.Background()

	_, err := m.GetOrCreateQueue(ctx, "a")
	require.NoError(t, err)
	_, err = m.GetOrCreateQueue(ctx, "b")
	require.NoError(t, err)

	// A second call returns the existing queue.
	_, err = m.GetOrCreateQueue(ctx, "a")
	require.NoError(t, err)

	queues, err := m.ListQueues(ctx)
	require.NoError(t, err)
	assert.Len(t, queues, 2)

	require.NoError(t, m.DeleteQueue(ctx, "a"))
	assert.ErrorIs(t, m.DeleteQueue(ctx, "a"), storage.ErrQueueNotFound)

	queues, err = m.ListQueues(ctx)
	require.NoError(t, err)
	assert.Len(t, queues, 1)
}
