// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fanout/queue/storage"
)

// DefaultSweepInterval is used when RetentionManager is given no interval.
const DefaultSweepInterval = time.Minute

// RetentionManager periodically deletes expired messages from every queue,
// including queues nobody polls.
type RetentionManager struct {
	store    storage.Store
	interval time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// RetentionStats describes one sweep.
type RetentionStats struct {
	Queues          int
	MessagesDeleted int64
	LastRunTime     time.Time
	LastRunDuration time.Duration
}

// NewRetentionManager creates a retention manager over the manager's store.
func NewRetentionManager(m *Manager, interval time.Duration, logger *slog.Logger) *RetentionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &RetentionManager{
		store:    m.store,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop in the background until Stop is called or ctx
// is done.
func (rm *RetentionManager) Start(ctx context.Context) {
	rm.wg.Add(1)
	go rm.loop(ctx)

	rm.logger.Info("retention_manager_started", slog.Duration("interval", rm.interval))
}

// Stop halts the sweep loop and waits for it to exit.
func (rm *RetentionManager) Stop() {
	rm.stopOnce.Do(func() { close(rm.stopCh) })
	rm.wg.Wait()
}

func (rm *RetentionManager) loop(ctx context.Context) {
	defer rm.wg.Done()

	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rm.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := rm.Sweep(ctx)
			if err != nil {
				rm.logger.Error("retention_sweep_failed", slog.String("error", err.Error()))
				continue
			}

			if stats.MessagesDeleted > 0 {
				rm.logger.Info("retention_sweep",
					slog.Int("queues", stats.Queues),
					slog.Int64("deleted", stats.MessagesDeleted),
					slog.Duration("duration", stats.LastRunDuration))
			}
		}
	}
}

// Sweep purges expired messages from every queue once. A queue deleted
// while the sweep runs is skipped.
func (rm *RetentionManager) Sweep(ctx context.Context) (*RetentionStats, error) {
	stats := &RetentionStats{LastRunTime: time.Now()}

	configs, err := rm.store.ListQueues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}

	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		n, err := rm.store.PurgeExpired(ctx, cfg.Name)
		if errors.Is(err, storage.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("failed to purge queue %q: %w", cfg.Name, err)
		}

		stats.Queues++
		stats.MessagesDeleted += n
	}

	stats.LastRunDuration = time.Since(stats.LastRunTime)
	return stats, nil
}
