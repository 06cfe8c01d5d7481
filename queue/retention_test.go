// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fanout/queue/storage/memory"
	"github.com/absmach/fanout/queue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetentionManager_Sweep(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m, err := NewManager(Config{Store: store})
	require.NoError(t, err)

	require.NoError(t, m.CreateQueue(ctx, types.QueueConfig{Name: "a", MessageTTL: 20 * time.Millisecond}))
	require.NoError(t, m.CreateQueue(ctx, types.DefaultQueueConfig("b")))

	for _, q := range []string{"a", "a", "b"} {
		adm, err := m.TryEnqueue(ctx, q, &types.Message{ID: q, Data: []byte(q), CreatedAt: time.Now()})
		require.NoError(t, err)
		require.Equal(t, types.Accepted, adm)
	}

	rm := NewRetentionManager(m, time.Hour, nil)

	stats, err := rm.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queues)
	assert.Zero(t, stats.MessagesDeleted)

	time.Sleep(50 * time.Millisecond)

	stats, err = rm.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.MessagesDeleted)

	count, err := store.Count(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRetentionManager_StartStop(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	m, err := NewManager(Config{Store: store})
	require.NoError(t, err)
	require.NoError(t, m.CreateQueue(ctx, types.QueueConfig{Name: "a", MessageTTL: 10 * time.Millisecond}))

	_, err = m.TryEnqueue(ctx, "a", &types.Message{ID: "1", Data: []byte("1"), CreatedAt: time.Now()})
	require.NoError(t, err)

	rm := NewRetentionManager(m, 20*time.Millisecond, nil)
	rm.Start(ctx)

	assert.Eventually(t, func() bool {
		stats, err := m.GetStats(ctx, "a")
		return err == nil && stats.Depth == 0
	}, time.Second, 10*time.Millisecond)

	rm.Stop()
	rm.Stop()
}
