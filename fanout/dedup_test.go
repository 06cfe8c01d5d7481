// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fanout/kv"
	kvmemory "github.com/absmach/fanout/kv/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupGuard(t *testing.T) {
	ctx := context.Background()
	store := kvmemory.New()
	d := newDedupGuard(store, "orders", 16)

	fresh, err := d.checkAndRecord(ctx, "", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = d.checkAndRecord(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = d.checkAndRecord(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	_, err = store.Get(ctx, "fanout:orders:dedup:k")
	require.NoError(t, err)
}

func TestDedupGuard_StoreIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	store := kvmemory.New()
	a := newDedupGuard(store, "orders", 16)
	b := newDedupGuard(store, "orders", 16)

	fresh, err := a.checkAndRecord(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	// b has never seen the key locally.
	fresh, err = b.checkAndRecord(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	// Dropping the store record makes the key new again, even for a.
	_, err = store.Delete(ctx, "fanout:orders:dedup:k")
	require.NoError(t, err)
	a.purge()

	fresh, err = a.checkAndRecord(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestDedupGuard_ShortWindowSkipsLocalCache(t *testing.T) {
	ctx := context.Background()
	d := newDedupGuard(kvmemory.New(), "orders", 16)

	_, err := d.checkAndRecord(ctx, "k", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, d.local.Len())

	time.Sleep(40 * time.Millisecond)

	fresh, err := d.checkAndRecord(ctx, "k", 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestDedupGuard_ClosedStore(t *testing.T) {
	store := kvmemory.New()
	require.NoError(t, store.Close())

	d := newDedupGuard(store, "orders", 16)
	_, err := d.checkAndRecord(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, kv.ErrClosed)
}

func TestHashKey(t *testing.T) {
	a := hashKey([]byte("payload"))
	assert.Len(t, a, 16)
	assert.Equal(t, a, hashKey([]byte("payload")))
	assert.NotEqual(t, a, hashKey([]byte("payload2")))
}
