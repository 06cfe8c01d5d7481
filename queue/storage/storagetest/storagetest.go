// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storagetest holds the behaviour every queue storage backend must
// satisfy.
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/fanout/queue/storage"
	"github.com/absmach/fanout/queue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the queue store conformance tests. newStore must return a
// fresh, empty store; the suite closes it.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"CreateQueue", testCreateQueue},
		{"CreateQueueInvalid", testCreateQueueInvalid},
		{"UpdateQueue", testUpdateQueue},
		{"DeleteQueue", testDeleteQueue},
		{"ListQueues", testListQueues},
		{"EnqueueUnknownQueue", testEnqueueUnknownQueue},
		{"EnqueueDequeueOrder", testEnqueueDequeueOrder},
		{"RejectsWhenFull", testRejectsWhenFull},
		{"RejectsOversized", testRejectsOversized},
		{"ConcurrentEnqueueBounded", testConcurrentEnqueueBounded},
		{"ExpiredMessagesSkipped", testExpiredMessagesSkipped},
		{"ExpiredMessagesFreeCapacity", testExpiredMessagesFreeCapacity},
		{"QueueNamesIsolated", testQueueNamesIsolated},
		{"MessageTTLApplied", testMessageTTLApplied},
		{"PurgeExpired", testPurgeExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func message(data string) *types.Message {
	return &types.Message{
		ID:        data,
		Data:      []byte(data),
		CreatedAt: time.Now(),
	}
}

func testCreateQueue(t *testing.T, s storage.Store) {
	ctx := context.Background()

	config := types.DefaultQueueConfig("orders")
	require.NoError(t, s.CreateQueue(ctx, config))

	retrieved, err := s.GetQueue(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, config, *retrieved)

	err = s.CreateQueue(ctx, config)
	assert.ErrorIs(t, err, storage.ErrQueueAlreadyExists)

	_, err = s.GetQueue(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrQueueNotFound)
}

func testCreateQueueInvalid(t *testing.T, s storage.Store) {
	err := s.CreateQueue(context.Background(), types.QueueConfig{})
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func testUpdateQueue(t *testing.T, s storage.Store) {
	ctx := context.Background()

	config := types.DefaultQueueConfig("orders")
	err := s.UpdateQueue(ctx, config)
	assert.ErrorIs(t, err, storage.ErrQueueNotFound)

	require.NoError(t, s.CreateQueue(ctx, config))

	config.MaxSize = 5
	config.MessageTTL = time.Minute
	require.NoError(t, s.UpdateQueue(ctx, config))

	retrieved, err := s.GetQueue(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(5), retrieved.MaxSize)
	assert.Equal(t, time.Minute, retrieved.MessageTTL)
}

func testDeleteQueue(t *testing.T, s storage.Store) {
	ctx := context.Background()

	err := s.DeleteQueue(ctx, "orders")
	assert.ErrorIs(t, err, storage.ErrQueueNotFound)

	require.NoError(t, s.CreateQueue(ctx, types.DefaultQueueConfig("orders")))
	_, err = s.Enqueue(ctx, "orders", message("a"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteQueue(ctx, "orders"))

	_, err = s.GetQueue(ctx, "orders")
	assert.ErrorIs(t, err, storage.ErrQueueNotFound)

	// Recreated queue starts empty.
	require.NoError(t, s.CreateQueue(ctx, types.DefaultQueueConfig("orders")))
	count, err := s.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testListQueues(t *testing.T, s storage.Store) {
	ctx := context.Background()

	queues, err := s.ListQueues(ctx)
	require.NoError(t, err)
	assert.Empty(t, queues)

	require.NoError(t, s.CreateQueue(ctx, types.DefaultQueueConfig("a")))
	require.NoError(t, s.CreateQueue(ctx, types.DefaultQueueConfig("b")))

	queues, err = s.ListQueues(ctx)
	require.NoError(t, err)

	names := make([]string, 0, len(queues))
	for _, q := range queues {
		names = append(names, q.Name)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func testEnqueueUnknownQueue(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "missing", message("a"))
	assert.ErrorIs(t, err, storage.ErrQueueNotFound)

	_, err = s.Dequeue(ctx, "missing", 1)
	assert.ErrorIs(t, err, storage.ErrQueueNotFound)

	_, err = s.Count(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrQueueNotFound)
}

func testEnqueueDequeueOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateQueue(ctx, types.DefaultQueueConfig("orders")))

	for _, data := range []string{"a", "b", "c"} {
		msg := message(data)
		msg.Headers = map[string]string{"k": data}

		adm, err := s.Enqueue(ctx, "orders", msg)
		require.NoError(t, err)
		assert.Equal(t, types.Accepted, adm)
		assert.Zero(t, msg.Sequence)
	}

	count, err := s.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	msgs, err := s.Dequeue(ctx, "orders", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("a"), msgs[0].Data)
	assert.Equal(t, "a", msgs[0].Headers["k"])
	assert.Equal(t, []byte("b"), msgs[1].Data)
	assert.NotZero(t, msgs[0].Sequence)
	assert.Less(t, msgs[0].Sequence, msgs[1].Sequence)

	msgs, err = s.Dequeue(ctx, "orders", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("c"), msgs[0].Data)

	msgs, err = s.Dequeue(ctx, "orders", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	count, err = s.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testRejectsWhenFull(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateQueue(ctx, types.QueueConfig{Name: "orders", MaxSize: 2}))

	for range 2 {
		adm, err := s.Enqueue(ctx, "orders", message("a"))
		require.NoError(t, err)
		assert.Equal(t, types.Accepted, adm)
	}

	msg := message("b")
	adm, err := s.Enqueue(ctx, "orders", msg)
	require.NoError(t, err)
	assert.Equal(t, types.RejectedFull, adm)

	// Draining frees capacity again.
	_, err = s.Dequeue(ctx, "orders", 1)
	require.NoError(t, err)

	adm, err = s.Enqueue(ctx, "orders", msg)
	require.NoError(t, err)
	assert.Equal(t, types.Accepted, adm)
}

func testRejectsOversized(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateQueue(ctx, types.QueueConfig{Name: "orders", MaxMessageSize: 4}))

	adm, err := s.Enqueue(ctx, "orders", message("12345"))
	require.NoError(t, err)
	assert.Equal(t, types.RejectedOversized, adm)

	count, err := s.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testConcurrentEnqueueBounded(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateQueue(ctx, types.QueueConfig{Name: "orders", MaxSize: 5}))

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := s.Enqueue(ctx, "orders", message("x"))
			if err == nil && adm == types.Accepted {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), accepted.Load())

	count, err := s.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func testExpiredMessagesSkipped(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateQueue(ctx, types.DefaultQueueConfig("orders")))

	expired := message("old")
	expired.ExpiresAt = time.Now().Add(-time.Second)
	_, err := s.Enqueue(ctx, "orders", expired)
	require.NoError(t, err)

	_, err = s.Enqueue(ctx, "orders", message("new"))
	require.NoError(t, err)

	msgs, err := s.Dequeue(ctx, "orders", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("new"), msgs[0].Data)
}

func testExpiredMessagesFreeCapacity(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateQueue(ctx, types.QueueConfig{Name: "orders", MaxSize: 1}))

	short := message("short")
	short.ExpiresAt = time.Now().Add(50 * time.Millisecond)
	adm, err := s.Enqueue(ctx, "orders", short)
	require.NoError(t, err)
	require.Equal(t, types.Accepted, adm)

	adm, err = s.Enqueue(ctx, "orders", message("next"))
	require.NoError(t, err)
	assert.Equal(t, types.RejectedFull, adm)

	time.Sleep(100 * time.Millisecond)

	adm, err = s.Enqueue(ctx, "orders", message("next"))
	require.NoError(t, err)
	assert.Equal(t, types.Accepted, adm)
}

func testQueueNamesIsolated(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateQueue(ctx, types.DefaultQueueConfig("a")))
	require.NoError(t, s.CreateQueue(ctx, types.DefaultQueueConfig("a:b")))

	_, err := s.Enqueue(ctx, "a:b", message("nested"))
	require.NoError(t, err)

	msgs, err := s.Dequeue(ctx, "a", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	count, err := s.Count(ctx, "a:b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func testMessageTTLApplied(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateQueue(ctx, types.QueueConfig{Name: "orders", MessageTTL: time.Hour}))

	msg := message("a")
	before := time.Now()
	_, err := s.Enqueue(ctx, "orders", msg)
	require.NoError(t, err)
	assert.True(t, msg.ExpiresAt.IsZero())

	msgs, err := s.Dequeue(ctx, "orders", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].ExpiresAt.Before(before.Add(time.Hour)))
}

func testPurgeExpired(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.PurgeExpired(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrQueueNotFound)

	require.NoError(t, s.CreateQueue(ctx, types.DefaultQueueConfig("orders")))

	short := message("short")
	short.ExpiresAt = time.Now().Add(20 * time.Millisecond)
	_, err = s.Enqueue(ctx, "orders", short)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "orders", message("kept"))
	require.NoError(t, err)

	purged, err := s.PurgeExpired(ctx, "orders")
	require.NoError(t, err)
	assert.Zero(t, purged)

	time.Sleep(50 * time.Millisecond)

	purged, err = s.PurgeExpired(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	count, err := s.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
