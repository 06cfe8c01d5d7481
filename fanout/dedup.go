// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/absmach/fanout/kv"
	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const dedupExpirySlack = time.Second

// dedupGuard records dedup keys fanout-wide in the shared store. The local
// cache only remembers keys this process stored itself, together with the
// deadline of their store record, so it can short-circuit a duplicate but
// never admits a key the store would reject.
type dedupGuard struct {
	store  kv.Store
	prefix string
	local  *lru.Cache[string, time.Time]
}

func newDedupGuard(store kv.Store, name string, cacheSize int) *dedupGuard {
	// Only fails for a non-positive size.
	local, _ := lru.New[string, time.Time](max(cacheSize, 1))

	return &dedupGuard{
		store:  store,
		prefix: "fanout:" + name + ":dedup:",
		local:  local,
	}
}

// checkAndRecord reports whether key is new inside window and records it.
// An empty key is always new.
func (d *dedupGuard) checkAndRecord(ctx context.Context, key string, window time.Duration) (bool, error) {
	if key == "" {
		return true, nil
	}

	now := time.Now()
	if deadline, ok := d.local.Get(key); ok {
		if now.Before(deadline) {
			return false, nil
		}
		d.local.Remove(key)
	}

	stored, err := d.store.PutIfAbsent(ctx, d.prefix+key, []byte(now.UTC().Format(time.RFC3339Nano)), window)
	if err != nil {
		return false, fmt.Errorf("failed to record dedup key: %w", err)
	}
	// Some stores round expiry down to whole seconds.
	if stored && window > dedupExpirySlack {
		d.local.Add(key, now.Add(window-dedupExpirySlack))
	}

	return stored, nil
}

// purge forgets every locally cached key.
func (d *dedupGuard) purge() {
	d.local.Purge()
}

// hashKey derives a dedup key from encoded payload bytes.
func hashKey(data []byte) string {
	var buf [8]byte
	sum := xxhash.Sum64(data)
	for i := range buf {
		buf[7-i] = byte(sum >> (8 * i))
	}
	return hex.EncodeToString(buf[:])
}
