// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"testing"

	"github.com/absmach/fanout/queue/storage"
	"github.com/absmach/fanout/queue/storage/storagetest"
	"github.com/absmach/fanout/queue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemoryQueueStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return New()
	})
}

func TestMemoryQueueStore_StoredCopy(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.CreateQueue(ctx, types.DefaultQueueConfig("orders")))

	msg := &types.Message{ID: "1", Data: []byte("a")}
	_, err := store.Enqueue(ctx, "orders", msg)
	require.NoError(t, err)

	// Mutating the caller's message does not affect the queued one.
	msg.ID = "changed"

	msgs, err := store.Dequeue(ctx, "orders", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", msgs[0].ID)
}
