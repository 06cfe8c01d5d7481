// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/absmach/fanout/queue/storage"
	"github.com/absmach/fanout/queue/types"
)

var _ storage.Store = (*Store)(nil)

type queue struct {
	config   types.QueueConfig
	messages []*types.Message
	nextSeq  uint64
}

// Store implements all queue storage interfaces using in-memory maps.
// This implementation is primarily for testing and development.
type Store struct {
	queues map[string]*queue
	mu     sync.Mutex
}

// New creates a new in-memory queue store.
func New() *Store {
	return &Store{
		queues: make(map[string]*queue),
	}
}

// QueueStore implementation

func (s *Store) CreateQueue(ctx context.Context, config types.QueueConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.queues[config.Name]; exists {
		return storage.ErrQueueAlreadyExists
	}

	s.queues[config.Name] = &queue{config: config}
	return nil
}

func (s *Store) GetQueue(ctx context.Context, queueName string) (*types.QueueConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, exists := s.queues[queueName]
	if !exists {
		return nil, storage.ErrQueueNotFound
	}

	configCopy := q.config
	return &configCopy, nil
}

func (s *Store) UpdateQueue(ctx context.Context, config types.QueueConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	q, exists := s.queues[config.Name]
	if !exists {
		return storage.ErrQueueNotFound
	}

	q.config = config
	return nil
}

func (s *Store) DeleteQueue(ctx context.Context, queueName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.queues[queueName]; !exists {
		return storage.ErrQueueNotFound
	}

	delete(s.queues, queueName)
	return nil
}

func (s *Store) ListQueues(ctx context.Context) ([]types.QueueConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	configs := make([]types.QueueConfig, 0, len(s.queues))
	for _, q := range s.queues {
		configs = append(configs, q.config)
	}

	return configs, nil
}

// MessageStore implementation

func (s *Store) Enqueue(ctx context.Context, queueName string, msg *types.Message) (types.Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, exists := s.queues[queueName]
	if !exists {
		return types.Accepted, storage.ErrQueueNotFound
	}

	now := time.Now()
	q.purgeExpired(now)

	if adm := q.config.Admit(int64(len(q.messages)), len(msg.Data)); adm != types.Accepted {
		return adm, nil
	}

	stored := *msg
	q.config.ApplyTTL(&stored, now)
	q.nextSeq++
	stored.Sequence = q.nextSeq
	q.messages = append(q.messages, &stored)

	return types.Accepted, nil
}

func (s *Store) Dequeue(ctx context.Context, queueName string, limit int) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, exists := s.queues[queueName]
	if !exists {
		return nil, storage.ErrQueueNotFound
	}

	q.purgeExpired(time.Now())

	n := min(limit, len(q.messages))
	if n <= 0 {
		return []*types.Message{}, nil
	}

	out := make([]*types.Message, n)
	copy(out, q.messages[:n])
	q.messages = append(q.messages[:0:0], q.messages[n:]...)

	return out, nil
}

func (s *Store) Count(ctx context.Context, queueName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, exists := s.queues[queueName]
	if !exists {
		return 0, storage.ErrQueueNotFound
	}

	q.purgeExpired(time.Now())
	return int64(len(q.messages)), nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}

// PurgeExpired deletes expired messages and returns how many it removed.
func (s *Store) PurgeExpired(ctx context.Context, queueName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, exists := s.queues[queueName]
	if !exists {
		return 0, storage.ErrQueueNotFound
	}

	return q.purgeExpired(time.Now()), nil
}

// purgeExpired drops expired messages. Messages carry individual expiries,
// so the whole slice is scanned.
func (q *queue) purgeExpired(now time.Time) int64 {
	before := len(q.messages)
	kept := q.messages[:0]
	for _, m := range q.messages {
		if !m.Expired(now) {
			kept = append(kept, m)
		}
	}
	for i := len(kept); i < len(q.messages); i++ {
		q.messages[i] = nil
	}
	q.messages = kept
	return int64(before - len(kept))
}
