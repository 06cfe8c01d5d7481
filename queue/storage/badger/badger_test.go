// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"testing"

	"github.com/absmach/fanout/queue/storage"
	"github.com/absmach/fanout/queue/storage/storagetest"
	"github.com/absmach/fanout/queue/types"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil // Disable logging in tests
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db)
}

func TestBadgerQueueStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return setupTestStore(t)
	})
}

func TestBadgerQueueStore_InMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open("")
		require.NoError(t, err)
		return s
	})
}

func TestBadgerQueueStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateQueue(ctx, types.DefaultQueueConfig("orders")))
	_, err = s.Enqueue(ctx, "orders", &types.Message{ID: "1", Data: []byte("a")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	count, err := s.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Sequences continue after a restart.
	_, err = s.Enqueue(ctx, "orders", &types.Message{ID: "2", Data: []byte("b")})
	require.NoError(t, err)

	msgs, err := s.Dequeue(ctx, "orders", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(1), msgs[0].Sequence)
	assert.Equal(t, uint64(2), msgs[1].Sequence)
}

func TestMessageKeyOrdering(t *testing.T) {
	a := messageKey("orders", 9)
	b := messageKey("orders", 10)
	assert.Less(t, string(a), string(b))
}
