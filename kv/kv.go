// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package kv defines the shared key-value contract used for state that every
// process sharing a fanout must observe: subscription documents and
// deduplication records.
//
// All mutations are conditional. Writers read an Entry, derive a new value
// and write it back with CompareAndSwap against the Revision they read; a
// concurrent writer makes the swap fail with ErrConflict.
package kv

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound = errors.New("key not found")
	ErrConflict = errors.New("revision conflict")
	ErrClosed   = errors.New("store closed")
)

// Entry is a stored value together with its modification revision.
// Revisions are opaque and only meaningful to the store that issued them.
type Entry struct {
	Key      string
	Value    []byte
	Revision int64
}

// Store is a key-value store with compare-and-swap semantics.
type Store interface {
	// Get returns the live entry for key or ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// CompareAndSwap writes value if the current revision of key equals rev.
	// A rev of 0 means the key must not exist. Any existing expiry on the key
	// is preserved. Returns ErrConflict when the revision does not match.
	CompareAndSwap(ctx context.Context, key string, rev int64, value []byte) error

	// PutIfAbsent stores value with the given ttl only if key does not exist.
	// It reports whether the value was stored. A ttl <= 0 means no expiry.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Expire sets a time to live on an existing key and reports whether the
	// key existed. A ttl <= 0 clears any expiry.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Close releases resources held by the store.
	Close() error
}
