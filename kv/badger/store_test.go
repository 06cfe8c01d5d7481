// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"testing"

	"github.com/absmach/fanout/kv"
	"github.com/absmach/fanout/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		return setupStore(t)
	})
}

func TestStore_InMemory(t *testing.T) {
	s, err := New(Config{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.CompareAndSwap(ctx, "doc", 0, []byte("v1")))

	entry, err := s.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), entry.Value)
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.CompareAndSwap(ctx, "doc", 0, []byte("persisted")))
	require.NoError(t, s.Close())

	s, err = New(Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	entry, err := s.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), entry.Value)
}

func TestStore_CloseIdempotent(t *testing.T) {
	s := setupStore(t)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
