// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package etcd

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/absmach/fanout/kv"
	"github.com/absmach/fanout/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

func TestStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded etcd test in short mode")
	}

	s, err := StartEmbedded(EmbeddedConfig{
		Name:       "kvtest",
		DataDir:    t.TempDir(),
		BindAddr:   freeAddr(t),
		ClientAddr: freeAddr(t),
		Bootstrap:  true,
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	n := 0
	kvtest.Run(t, func(t *testing.T) kv.Store {
		n++
		// Every subtest gets its own key space on the shared member.
		return &nopCloser{Store: New(s.client, fmt.Sprintf("/kvtest/%d/", n))}
	})
}

func TestTTLSeconds(t *testing.T) {
	assert.Equal(t, int64(1), ttlSeconds(0))
	assert.Equal(t, int64(1), ttlSeconds(200*time.Millisecond))
	assert.Equal(t, int64(1), ttlSeconds(time.Second))
	assert.Equal(t, int64(2), ttlSeconds(1500*time.Millisecond))
	assert.Equal(t, int64(300), ttlSeconds(5*time.Minute))
}

// nopCloser keeps the shared client open when the suite closes a store.
type nopCloser struct {
	*Store
}

func (nopCloser) Close() error { return nil }
