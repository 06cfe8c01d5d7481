// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/fanout/queue/storage"
	"github.com/absmach/fanout/queue/types"
)

var _ Client = (*Manager)(nil)

// Manager manages the queues fanouts deliver into.
type Manager struct {
	store      storage.Store
	defaults   types.QueueConfig
	autoCreate bool
	logger     *slog.Logger
}

// Config holds configuration for the queue manager.
type Config struct {
	Store storage.Store

	// Defaults are applied to queues created on first enqueue. Name is
	// ignored.
	Defaults types.QueueConfig

	// AutoCreate creates unknown queues on first enqueue instead of failing
	// with storage.ErrQueueNotFound.
	AutoCreate bool

	Logger *slog.Logger
}

// NewManager creates a new queue manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("queue store cannot be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaults := cfg.Defaults
	defaults.Name = "defaults"
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default queue config: %w", err)
	}

	return &Manager{
		store:      cfg.Store,
		defaults:   cfg.Defaults,
		autoCreate: cfg.AutoCreate,
		logger:     logger,
	}, nil
}

// CreateQueue creates a new queue.
func (m *Manager) CreateQueue(ctx context.Context, config types.QueueConfig) error {
	if err := m.store.CreateQueue(ctx, config); err != nil {
		return err
	}

	m.logger.Info("queue_created",
		slog.String("queue", config.Name),
		slog.Int64("max_size", config.MaxSize),
		slog.Int64("max_message_size", config.MaxMessageSize))

	return nil
}

// PutQueue creates the queue or replaces the configuration of an existing
// one. Messages already held are kept even when they exceed a lowered
// MaxSize.
func (m *Manager) PutQueue(ctx context.Context, config types.QueueConfig) error {
	err := m.store.UpdateQueue(ctx, config)
	if errors.Is(err, storage.ErrQueueNotFound) {
		err = m.CreateQueue(ctx, config)
		if errors.Is(err, storage.ErrQueueAlreadyExists) {
			err = m.store.UpdateQueue(ctx, config)
		}
	}

	return err
}

// GetQueue returns the configuration of a queue.
func (m *Manager) GetQueue(ctx context.Context, queueName string) (*types.QueueConfig, error) {
	return m.store.GetQueue(ctx, queueName)
}

// GetOrCreateQueue gets an existing queue or creates one with default config.
func (m *Manager) GetOrCreateQueue(ctx context.Context, queueName string) (*types.QueueConfig, error) {
	config, err := m.store.GetQueue(ctx, queueName)
	if err == nil {
		return config, nil
	}
	if !errors.Is(err, storage.ErrQueueNotFound) {
		return nil, err
	}

	if err := m.CreateQueue(ctx, m.defaultConfig(queueName)); err != nil && !errors.Is(err, storage.ErrQueueAlreadyExists) {
		return nil, err
	}

	return m.store.GetQueue(ctx, queueName)
}

// DeleteQueue deletes a queue and every message it holds.
func (m *Manager) DeleteQueue(ctx context.Context, queueName string) error {
	if err := m.store.DeleteQueue(ctx, queueName); err != nil {
		return err
	}

	m.logger.Info("queue_deleted", slog.String("queue", queueName))
	return nil
}

// ListQueues lists all queue configurations.
func (m *Manager) ListQueues(ctx context.Context) ([]types.QueueConfig, error) {
	return m.store.ListQueues(ctx)
}

// TryEnqueue implements Client.
func (m *Manager) TryEnqueue(ctx context.Context, queueName string, msg *types.Message) (types.Admission, error) {
	adm, err := m.store.Enqueue(ctx, queueName, msg)
	if errors.Is(err, storage.ErrQueueNotFound) && m.autoCreate {
		if _, err := m.GetOrCreateQueue(ctx, queueName); err != nil {
			return types.Accepted, err
		}
		adm, err = m.store.Enqueue(ctx, queueName, msg)
	}
	if err != nil {
		return types.Accepted, err
	}

	if adm != types.Accepted {
		m.logger.Debug("queue_enqueue_rejected",
			slog.String("queue", queueName),
			slog.String("message_id", msg.ID),
			slog.String("reason", adm.String()))
	}

	return adm, nil
}

// Poll removes and returns up to limit messages from the queue.
func (m *Manager) Poll(ctx context.Context, queueName string, limit int) ([]*types.Message, error) {
	return m.store.Dequeue(ctx, queueName, limit)
}

// GetStats returns statistics for a queue.
func (m *Manager) GetStats(ctx context.Context, queueName string) (*QueueStats, error) {
	config, err := m.store.GetQueue(ctx, queueName)
	if err != nil {
		return nil, err
	}

	depth, err := m.store.Count(ctx, queueName)
	if err != nil {
		return nil, err
	}

	return &QueueStats{
		Name:    queueName,
		Depth:   depth,
		MaxSize: config.MaxSize,
	}, nil
}

func (m *Manager) defaultConfig(queueName string) types.QueueConfig {
	config := m.defaults
	config.Name = queueName
	return config
}

// QueueStats holds queue statistics.
type QueueStats struct {
	Name    string `json:"name"`
	Depth   int64  `json:"depth"`
	MaxSize int64  `json:"max_size"`
}
