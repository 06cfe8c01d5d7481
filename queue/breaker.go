// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/fanout/queue/types"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sony/gobreaker"
)

// ErrQueueUnavailable is returned while the circuit of a queue is open.
var ErrQueueUnavailable = errors.New("queue unavailable")

var _ Client = (*BreakerClient)(nil)

// BreakerConfig configures per-queue circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	ResetTimeout     time.Duration // Time spent open before probing
}

// BreakerClient wraps a Client with one circuit breaker per queue, so a
// queue whose backend keeps failing stops slowing down every publish.
// Rejections are outcomes, not failures, and never trip a breaker.
type BreakerClient struct {
	next     Client
	cfg      BreakerConfig
	breakers *xsync.MapOf[string, *gobreaker.CircuitBreaker]
	logger   *slog.Logger
}

// NewBreakerClient wraps next.
func NewBreakerClient(next Client, cfg BreakerConfig, logger *slog.Logger) *BreakerClient {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &BreakerClient{
		next:     next,
		cfg:      cfg,
		breakers: xsync.NewMapOf[string, *gobreaker.CircuitBreaker](),
		logger:   logger,
	}
}

// TryEnqueue implements Client.
func (b *BreakerClient) TryEnqueue(ctx context.Context, queueName string, msg *types.Message) (types.Admission, error) {
	cb := b.breaker(queueName)

	res, err := cb.Execute(func() (interface{}, error) {
		adm, err := b.next.TryEnqueue(ctx, queueName, msg)
		return adm, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.Accepted, ErrQueueUnavailable
	}
	if err != nil {
		return types.Accepted, err
	}

	return res.(types.Admission), nil
}

// State returns the breaker state of a queue.
func (b *BreakerClient) State(queueName string) gobreaker.State {
	return b.breaker(queueName).State()
}

func (b *BreakerClient) breaker(queueName string) *gobreaker.CircuitBreaker {
	cb, _ := b.breakers.LoadOrCompute(queueName, func() *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        queueName,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     b.cfg.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(b.cfg.FailureThreshold)
			},
			IsSuccessful: func(err error) bool {
				// A cancelled caller says nothing about the queue.
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				b.logger.Warn("queue_breaker_state_changed",
					slog.String("queue", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	})

	return cb
}
