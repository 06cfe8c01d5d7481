// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package kvtest holds the behaviour every kv.Store backend must satisfy.
package kvtest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/fanout/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the store conformance tests. newStore must return a fresh,
// empty store; the suite closes it.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s kv.Store)
	}{
		{"GetMissing", testGetMissing},
		{"CreateWithZeroRevision", testCreateWithZeroRevision},
		{"SwapRequiresCurrentRevision", testSwapRequiresCurrentRevision},
		{"ConcurrentSwapsOneWinner", testConcurrentSwapsOneWinner},
		{"PutIfAbsent", testPutIfAbsent},
		{"PutIfAbsentConcurrent", testPutIfAbsentConcurrent},
		{"Delete", testDelete},
		{"Expire", testExpire},
		{"SwapKeepsExpiry", testSwapKeepsExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func testGetMissing(t *testing.T, s kv.Store) {
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testCreateWithZeroRevision(t *testing.T, s kv.Store) {
	ctx := context.Background()

	require.NoError(t, s.CompareAndSwap(ctx, "doc", 0, []byte("v1")))

	entry, err := s.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "doc", entry.Key)
	assert.Equal(t, []byte("v1"), entry.Value)
	assert.NotZero(t, entry.Revision)

	err = s.CompareAndSwap(ctx, "doc", 0, []byte("v2"))
	assert.ErrorIs(t, err, kv.ErrConflict)
}

func testSwapRequiresCurrentRevision(t *testing.T, s kv.Store) {
	ctx := context.Background()

	require.NoError(t, s.CompareAndSwap(ctx, "doc", 0, []byte("v1")))
	first, err := s.Get(ctx, "doc")
	require.NoError(t, err)

	require.NoError(t, s.CompareAndSwap(ctx, "doc", first.Revision, []byte("v2")))

	err = s.CompareAndSwap(ctx, "doc", first.Revision, []byte("v3"))
	assert.ErrorIs(t, err, kv.ErrConflict)

	second, err := s.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), second.Value)
	assert.NotEqual(t, first.Revision, second.Revision)
}

func testConcurrentSwapsOneWinner(t *testing.T, s kv.Store) {
	ctx := context.Background()

	require.NoError(t, s.CompareAndSwap(ctx, "doc", 0, []byte("base")))
	base, err := s.Get(ctx, "doc")
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.CompareAndSwap(ctx, "doc", base.Revision, []byte("next")); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func testPutIfAbsent(t *testing.T, s kv.Store) {
	ctx := context.Background()

	ok, err := s.PutIfAbsent(ctx, "dedup", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.PutIfAbsent(ctx, "dedup", []byte("2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	entry, err := s.Get(ctx, "dedup")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), entry.Value)
}

func testPutIfAbsentConcurrent(t *testing.T, s kv.Store) {
	ctx := context.Background()

	var stored atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.PutIfAbsent(ctx, "race", []byte("x"), time.Minute)
			if err == nil && ok {
				stored.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), stored.Load())
}

func testDelete(t *testing.T, s kv.Store) {
	ctx := context.Background()

	existed, err := s.Delete(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, existed)

	require.NoError(t, s.CompareAndSwap(ctx, "doc", 0, []byte("v1")))

	existed, err = s.Delete(ctx, "doc")
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = s.Get(ctx, "doc")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testExpire(t *testing.T, s kv.Store) {
	ctx := context.Background()

	ok, err := s.Expire(ctx, "missing", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.CompareAndSwap(ctx, "doc", 0, []byte("v1")))

	ok, err = s.Expire(ctx, "doc", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		_, err := s.Get(ctx, "doc")
		return err == kv.ErrNotFound
	}, 5*time.Second, 50*time.Millisecond)
}

func testSwapKeepsExpiry(t *testing.T, s kv.Store) {
	ctx := context.Background()

	require.NoError(t, s.CompareAndSwap(ctx, "doc", 0, []byte("v1")))
	_, err := s.Expire(ctx, "doc", time.Second)
	require.NoError(t, err)

	entry, err := s.Get(ctx, "doc")
	require.NoError(t, err)
	require.NoError(t, s.CompareAndSwap(ctx, "doc", entry.Revision, []byte("v2")))

	assert.Eventually(t, func() bool {
		_, err := s.Get(ctx, "doc")
		return err == kv.ErrNotFound
	}, 5*time.Second, 50*time.Millisecond)
}
