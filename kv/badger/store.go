// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/absmach/fanout/kv"
	"github.com/dgraph-io/badger/v4"
)

var _ kv.Store = (*Store)(nil)

// Store implements kv.Store on BadgerDB. Revisions are Badger commit
// versions, and conflicting transactions surface as kv.ErrConflict.
//
// Badger is embedded, so a Store is shared only by the handles of one
// process. Use the etcd backend to share fanout state across processes.
type Store struct {
	db *badger.DB

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir        string // Directory for BadgerDB data
	InMemory   bool   // Keep everything in memory (tests)
	SyncWrites bool
}

// New opens a BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = cfg.SyncWrites
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}

	if cfg.InMemory {
		close(s.gcDone)
	} else {
		go s.runGC()
	}

	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) (*kv.Entry, error) {
	var entry *kv.Entry

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		entry = &kv.Entry{Key: key, Value: value, Revision: int64(item.Version())}
		return nil
	})
	if err != nil {
		return nil, mapErr(err)
	}

	return entry, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, rev int64, value []byte) error {
	k := []byte(key)

	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(k, value)

		item, err := txn.Get(k)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if rev != 0 {
				return kv.ErrConflict
			}
		case err != nil:
			return err
		default:
			if int64(item.Version()) != rev {
				return kv.ErrConflict
			}
			entry.ExpiresAt = item.ExpiresAt()
		}

		return txn.SetEntry(entry)
	})

	return mapErr(err)
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	k := []byte(key)
	stored := false

	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		entry := badger.NewEntry(k, value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return err
		}

		stored = true
		return nil
	})
	if err != nil {
		// A concurrent writer created the key first.
		if errors.Is(err, badger.ErrConflict) {
			return false, nil
		}
		return false, mapErr(err)
	}

	return stored, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	k := []byte(key)
	existed := false

	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		existed = true
		return txn.Delete(k)
	})

	return existed, mapErr(err)
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	k := []byte(key)
	existed := false

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		entry := badger.NewEntry(k, value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}

		existed = true
		return txn.SetEntry(entry)
	})

	return existed, mapErr(err)
}

// Close gracefully closes the BadgerDB database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC() {
	defer close(s.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Reclaim when at least half of a file is garbage; "no rewrite" errors are expected.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return kv.ErrNotFound
	case errors.Is(err, badger.ErrConflict):
		return kv.ErrConflict
	case errors.Is(err, badger.ErrDBClosed):
		return kv.ErrClosed
	default:
		return err
	}
}
