// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/absmach/fanout/queue/storage"
	"github.com/absmach/fanout/queue/types"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	queueMetaPrefix    = "queue:meta:"
	queueMessagePrefix = "queue:msg:"
	queueSeqPrefix     = "queue:seq:"
	queueCountPrefix   = "queue:count:" // Counter for O(1) Count()

	// Attempts for transactions that lose a race with a concurrent writer.
	maxTxnAttempts = 16
)

var _ storage.Store = (*Store)(nil)

// Store implements all queue storage interfaces using BadgerDB.
type Store struct {
	db    *badger.DB
	owned bool
}

// New creates a new BadgerDB queue store on an already opened database.
// The caller keeps ownership of db.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens a database at dir and returns a store that owns it. An empty dir
// keeps everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, owned: true}, nil
}

// QueueStore implementation

func (s *Store) CreateQueue(ctx context.Context, config types.QueueConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	key := queueMetaPrefix + config.Name
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		// Check if queue already exists
		_, err := txn.Get([]byte(key))
		if err == nil {
			return storage.ErrQueueAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set([]byte(key), data); err != nil {
			return err
		}

		return setCounter(txn, queueCountPrefix+config.Name, 0)
	})
}

func (s *Store) GetQueue(ctx context.Context, queueName string) (*types.QueueConfig, error) {
	var config *types.QueueConfig

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		config, err = getConfig(txn, queueName)
		return err
	})
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (s *Store) UpdateQueue(ctx context.Context, config types.QueueConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	key := queueMetaPrefix + config.Name
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrQueueNotFound
		}
		if err != nil {
			return err
		}

		return txn.Set([]byte(key), data)
	})
}

func (s *Store) DeleteQueue(ctx context.Context, queueName string) error {
	err := s.update(func(txn *badger.Txn) error {
		key := []byte(queueMetaPrefix + queueName)
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrQueueNotFound
		}
		if err != nil {
			return err
		}

		for _, k := range []string{queueMetaPrefix, queueCountPrefix, queueSeqPrefix} {
			if err := txn.Delete([]byte(k + queueName)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Messages may exceed a single transaction, so they are dropped by prefix.
	return s.db.DropPrefix(messagePrefix(queueName))
}

func (s *Store) ListQueues(ctx context.Context) ([]types.QueueConfig, error) {
	configs := make([]types.QueueConfig, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueMetaPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var config types.QueueConfig
				if err := json.Unmarshal(val, &config); err != nil {
					return err
				}
				configs = append(configs, config)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return configs, err
}

// MessageStore implementation

func (s *Store) Enqueue(ctx context.Context, queueName string, msg *types.Message) (types.Admission, error) {
	var admission types.Admission

	err := s.update(func(txn *badger.Txn) error {
		config, err := getConfig(txn, queueName)
		if err != nil {
			return err
		}

		countKey := queueCountPrefix + queueName
		depth, err := getCounter(txn, countKey)
		if err != nil {
			return err
		}

		admission = config.Admit(depth, len(msg.Data))
		if admission == types.RejectedFull {
			// Expired messages still occupy the counter until purged.
			purged, err := purgeExpired(txn, queueName, time.Now())
			if err != nil {
				return err
			}
			if purged > 0 {
				depth -= purged
				if err := setCounter(txn, countKey, depth); err != nil {
					return err
				}
			}
			admission = config.Admit(depth, len(msg.Data))
		}
		if admission != types.Accepted {
			return nil
		}

		seqKey := queueSeqPrefix + queueName
		last, err := getCounter(txn, seqKey)
		if err != nil {
			return err
		}
		seq := uint64(last) + 1

		stored := *msg
		stored.Sequence = seq
		config.ApplyTTL(&stored, time.Now())
		data, err := msgpack.Marshal(&stored)
		if err != nil {
			return err
		}

		if err := txn.Set(messageKey(queueName, seq), data); err != nil {
			return err
		}
		if err := setCounter(txn, seqKey, int64(seq)); err != nil {
			return err
		}
		return setCounter(txn, countKey, depth+1)
	})
	if err != nil {
		return types.Accepted, err
	}

	return admission, nil
}

func (s *Store) Dequeue(ctx context.Context, queueName string, limit int) ([]*types.Message, error) {
	var msgs []*types.Message

	err := s.update(func(txn *badger.Txn) error {
		msgs = make([]*types.Message, 0, max(limit, 0))
		if _, err := getConfig(txn, queueName); err != nil {
			return err
		}
		if limit <= 0 {
			return nil
		}

		now := time.Now()
		var consumed [][]byte

		opts := badger.DefaultIteratorOptions
		opts.Prefix = messagePrefix(queueName)

		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid() && len(msgs) < limit; it.Next() {
			item := it.Item()

			var m types.Message
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &m)
			}); err != nil {
				it.Close()
				return err
			}

			consumed = append(consumed, item.KeyCopy(nil))
			if m.Expired(now) {
				continue
			}
			msgs = append(msgs, &m)
		}
		it.Close()

		for _, k := range consumed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		return addCounter(txn, queueCountPrefix+queueName, -int64(len(consumed)))
	})
	if err != nil {
		return nil, err
	}

	return msgs, nil
}

func (s *Store) Count(ctx context.Context, queueName string) (int64, error) {
	var count int64

	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := getConfig(txn, queueName); err != nil {
			return err
		}

		var err error
		count, err = getCounter(txn, queueCountPrefix+queueName)
		return err
	})

	return count, err
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying when the commit
// conflicts with a concurrent transaction.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxTxnAttempts {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getConfig(txn *badger.Txn, queueName string) (*types.QueueConfig, error) {
	item, err := txn.Get([]byte(queueMetaPrefix + queueName))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrQueueNotFound
	}
	if err != nil {
		return nil, err
	}

	var config types.QueueConfig
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &config)
	}); err != nil {
		return nil, err
	}

	return &config, nil
}

// PurgeExpired deletes expired messages and releases their share of the
// queue depth.
func (s *Store) PurgeExpired(ctx context.Context, queueName string) (int64, error) {
	var purged int64

	err := s.update(func(txn *badger.Txn) error {
		purged = 0
		if _, err := getConfig(txn, queueName); err != nil {
			return err
		}

		n, err := purgeExpired(txn, queueName, time.Now())
		if err != nil || n == 0 {
			return err
		}
		purged = n
		return addCounter(txn, queueCountPrefix+queueName, -n)
	})

	return purged, err
}

// purgeExpired deletes expired messages and returns how many were removed.
func purgeExpired(txn *badger.Txn, queueName string, now time.Time) (int64, error) {
	var expired [][]byte

	opts := badger.DefaultIteratorOptions
	opts.Prefix = messagePrefix(queueName)

	it := txn.NewIterator(opts)
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()

		var m types.Message
		if err := item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &m)
		}); err != nil {
			it.Close()
			return 0, err
		}
		if m.Expired(now) {
			expired = append(expired, item.KeyCopy(nil))
		}
	}
	it.Close()

	for _, k := range expired {
		if err := txn.Delete(k); err != nil {
			return 0, err
		}
	}

	return int64(len(expired)), nil
}

func getCounter(txn *badger.Txn, key string) (int64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var value int64
	err = item.Value(func(val []byte) error {
		if len(val) == 8 {
			value = int64(binary.BigEndian.Uint64(val))
		}
		return nil
	})

	return value, err
}

func setCounter(txn *badger.Txn, key string, value int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(value))
	return txn.Set([]byte(key), buf)
}

func addCounter(txn *badger.Txn, key string, delta int64) error {
	current, err := getCounter(txn, key)
	if err != nil {
		return err
	}

	// Never go negative
	return setCounter(txn, key, max(current+delta, 0))
}

// messagePrefix terminates the queue name with a NUL byte so that the
// prefix of one queue never matches another queue whose name extends it.
func messagePrefix(queueName string) []byte {
	return []byte(queueMessagePrefix + queueName + "\x00")
}

func messageKey(queueName string, seq uint64) []byte {
	prefix := messagePrefix(queueName)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}
