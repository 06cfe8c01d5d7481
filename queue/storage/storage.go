// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"

	"github.com/absmach/fanout/queue/types"
)

var (
	ErrQueueNotFound      = errors.New("queue not found")
	ErrQueueAlreadyExists = errors.New("queue already exists")
)

// QueueStore manages queue metadata and configuration.
type QueueStore interface {
	CreateQueue(ctx context.Context, config types.QueueConfig) error
	GetQueue(ctx context.Context, queueName string) (*types.QueueConfig, error)
	UpdateQueue(ctx context.Context, config types.QueueConfig) error
	DeleteQueue(ctx context.Context, queueName string) error
	ListQueues(ctx context.Context) ([]types.QueueConfig, error)
}

// MessageStore manages queue messages.
type MessageStore interface {
	// Enqueue appends msg unless the queue's limits reject it. The depth
	// check and the append happen atomically, so concurrent producers never
	// push a queue past MaxSize. The store keeps its own copy of msg and
	// assigns its Sequence; msg itself is never modified, so one message may
	// be enqueued to several queues concurrently.
	Enqueue(ctx context.Context, queueName string, msg *types.Message) (types.Admission, error)

	// Dequeue removes and returns up to limit messages, oldest first.
	// Expired messages are dropped and not returned.
	Dequeue(ctx context.Context, queueName string, limit int) ([]*types.Message, error)

	// Count returns the number of messages held by the queue.
	Count(ctx context.Context, queueName string) (int64, error)

	// PurgeExpired deletes the queue's expired messages and returns how
	// many were removed.
	PurgeExpired(ctx context.Context, queueName string) (int64, error)
}

// Store combines all queue storage interfaces.
type Store interface {
	QueueStore
	MessageStore
	Close() error
}
