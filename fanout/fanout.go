// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package fanout implements reliable fanout: a named publish endpoint that
// copies every message into each subscribed queue whose filter admits it.
//
// Subscriptions, filters and deduplication records live in a shared
// kv.Store, so every Fanout handle with the same name and store observes the
// same subscribers, whichever process it runs in.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fanout/codec"
	"github.com/absmach/fanout/filter"
	"github.com/absmach/fanout/kv"
	"github.com/absmach/fanout/queue"
	"github.com/absmach/fanout/server/otel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Defaults applied to zero Config fields.
const (
	DefaultDedupInterval    = 10 * time.Minute
	DefaultAdmissionTimeout = 5 * time.Second
	DefaultConflictRetries  = 16
	DefaultDedupCacheSize   = 4096
	DefaultHandleCacheSize  = 1024
)

// Config holds the dependencies and settings of a Fanout.
type Config[V any] struct {
	Name   string
	Store  kv.Store
	Queues queue.Client

	// Codec encodes messages admitted into queues. Defaults to msgpack.
	Codec codec.Codec
	// Filters rebuilds filters from their replicated specs. Defaults to a
	// registry with the built-in kinds.
	Filters *filter.Registry[V]

	Logger  *slog.Logger
	Metrics *otel.Metrics // nil disables metrics
	Tracer  trace.Tracer  // nil disables tracing

	DedupInterval    time.Duration
	AdmissionTimeout time.Duration
	ConflictRetries  int
	DedupCacheSize   int
	FilterCacheSize  int

	// HandleCacheSize bounds the handles a Manager keeps. Ignored by New.
	HandleCacheSize int

	// MaxConcurrency bounds concurrent queue admissions per message.
	// 0 means one goroutine per subscribed queue.
	MaxConcurrency int
}

// Fanout is a handle to a named fanout. It is safe for concurrent use.
type Fanout[V any] struct {
	name     string
	queues   queue.Client
	store    kv.Store
	codec    codec.Codec
	filters  *filter.Registry[V]
	registry *registry
	dedup    *dedupGuard
	logger   *slog.Logger
	metrics  *otel.Metrics
	tracer   trace.Tracer

	dedupInterval    time.Duration
	admissionTimeout time.Duration
	maxConcurrency   int
}

// New creates a handle to the fanout named cfg.Name.
func New[V any](cfg Config[V]) (*Fanout[V], error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: fanout name required", ErrInvalidArgs)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store required", ErrInvalidArgs)
	}
	if cfg.Queues == nil {
		return nil, fmt.Errorf("%w: queue client required", ErrInvalidArgs)
	}

	if cfg.Codec == nil {
		cfg.Codec = codec.Msgpack{}
	}
	if cfg.Filters == nil {
		cfg.Filters = filter.NewRegistry[V](cfg.FilterCacheSize)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("fanout")
	}
	if cfg.DedupInterval <= 0 {
		cfg.DedupInterval = DefaultDedupInterval
	}
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = DefaultAdmissionTimeout
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = DefaultConflictRetries
	}
	if cfg.DedupCacheSize <= 0 {
		cfg.DedupCacheSize = DefaultDedupCacheSize
	}

	return &Fanout[V]{
		name:             cfg.Name,
		queues:           cfg.Queues,
		store:            cfg.Store,
		codec:            cfg.Codec,
		filters:          cfg.Filters,
		registry:         newRegistry(cfg.Store, cfg.Name, cfg.ConflictRetries),
		dedup:            newDedupGuard(cfg.Store, cfg.Name, cfg.DedupCacheSize),
		logger:           cfg.Logger.With(slog.String("fanout", cfg.Name)),
		metrics:          cfg.Metrics,
		tracer:           cfg.Tracer,
		dedupInterval:    cfg.DedupInterval,
		admissionTimeout: cfg.AdmissionTimeout,
		maxConcurrency:   cfg.MaxConcurrency,
	}, nil
}

// Name returns the fanout name.
func (f *Fanout[V]) Name() string {
	return f.name
}

// Codec returns the codec messages are encoded with.
func (f *Fanout[V]) Codec() codec.Codec {
	return f.codec
}

// SubscribeQueue subscribes the named queue without a filter. A filter set
// earlier for the queue with SetFilter takes effect. It reports false if the
// queue was already subscribed.
func (f *Fanout[V]) SubscribeQueue(ctx context.Context, queueName string) (bool, error) {
	if queueName == "" {
		return false, fmt.Errorf("%w: queue name required", ErrInvalidArgs)
	}

	added, err := f.registry.subscribe(ctx, queueName, nil)
	if err != nil {
		return false, err
	}
	if added {
		f.subscribed(queueName)
	}

	return added, nil
}

// SubscribeQueueWithFilter subscribes the named queue and installs spec in
// the same write. If the queue is already subscribed it reports false and
// leaves the existing filter unchanged.
func (f *Fanout[V]) SubscribeQueueWithFilter(ctx context.Context, queueName string, spec filter.Spec) (bool, error) {
	if queueName == "" {
		return false, fmt.Errorf("%w: queue name required", ErrInvalidArgs)
	}
	if err := f.filters.Validate(spec); err != nil {
		return false, err
	}

	added, err := f.registry.subscribe(ctx, queueName, &spec)
	if err != nil {
		return false, err
	}
	if added {
		f.subscribed(queueName)
	}

	return added, nil
}

// Unsubscribe removes the named queue and its filter. It reports false if
// the queue was not subscribed.
func (f *Fanout[V]) Unsubscribe(ctx context.Context, queueName string) (bool, error) {
	removed, err := f.registry.unsubscribe(ctx, queueName)
	if err != nil {
		return false, err
	}

	if removed {
		f.logger.Info("fanout_queue_unsubscribed", slog.String("queue", queueName))
		if f.metrics != nil {
			f.metrics.RecordSubscriptionRemoved(f.name)
		}
	}

	return removed, nil
}

// SetFilter installs spec as the filter of the named queue, replacing any
// previous one. The filter is stored even if the queue is not subscribed
// and applies once it subscribes.
func (f *Fanout[V]) SetFilter(ctx context.Context, queueName string, spec filter.Spec) error {
	if queueName == "" {
		return fmt.Errorf("%w: queue name required", ErrInvalidArgs)
	}
	if err := f.filters.Validate(spec); err != nil {
		return err
	}

	if err := f.registry.setFilter(ctx, queueName, spec); err != nil {
		return err
	}

	f.logger.Info("fanout_filter_set", slog.String("queue", queueName), slog.String("kind", spec.Kind))
	return nil
}

// RemoveFilter removes the filter of the named queue, so every message is
// admitted again. Removing a missing filter is not an error.
func (f *Fanout[V]) RemoveFilter(ctx context.Context, queueName string) error {
	return f.registry.removeFilter(ctx, queueName)
}

// IsSubscribed reports whether the named queue is subscribed.
func (f *Fanout[V]) IsSubscribed(ctx context.Context, queueName string) (bool, error) {
	st, err := f.registry.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return st.subscribed(queueName), nil
}

// Subscribers returns the names of all subscribed queues in sorted order.
func (f *Fanout[V]) Subscribers(ctx context.Context) ([]string, error) {
	subs, err := f.Subscriptions(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(subs))
	for i, sub := range subs {
		names[i] = sub.Queue
	}
	return names, nil
}

// CountSubscribers returns the number of subscribed queues.
func (f *Fanout[V]) CountSubscribers(ctx context.Context) (int, error) {
	st, err := f.registry.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(st.Subscriptions), nil
}

// Subscriptions returns every subscription with its filter, sorted by queue.
func (f *Fanout[V]) Subscriptions(ctx context.Context) ([]Subscription, error) {
	st, err := f.registry.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return st.subscriptions(), nil
}

// Expire sets a time to live on the fanout's subscription state. Once it
// elapses the fanout has no subscribers and no filters. A ttl <= 0 clears
// a previously set expiry. It reports false if the fanout has no state.
func (f *Fanout[V]) Expire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := f.store.Expire(ctx, f.registry.key, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to expire fanout state: %w", err)
	}
	return ok, nil
}

// ExpireAt is Expire with an absolute deadline.
func (f *Fanout[V]) ExpireAt(ctx context.Context, deadline time.Time) (bool, error) {
	ttl := time.Until(deadline)
	if ttl <= 0 {
		// A past deadline expires immediately.
		return f.Delete(ctx)
	}
	return f.Expire(ctx, ttl)
}

// Delete removes all subscriptions and filters of the fanout. Messages
// already admitted into queues are not affected. It reports false if the
// fanout had no state.
func (f *Fanout[V]) Delete(ctx context.Context) (bool, error) {
	existed, err := f.store.Delete(ctx, f.registry.key)
	if err != nil {
		return false, fmt.Errorf("failed to delete fanout state: %w", err)
	}

	f.dedup.purge()
	if existed {
		f.logger.Info("fanout_deleted")
	}

	return existed, nil
}

// Exists reports whether the fanout has subscription state.
func (f *Fanout[V]) Exists(ctx context.Context) (bool, error) {
	_, err := f.store.Get(ctx, f.registry.key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, kv.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (f *Fanout[V]) subscribed(queueName string) {
	f.logger.Info("fanout_queue_subscribed", slog.String("queue", queueName))
	if f.metrics != nil {
		f.metrics.RecordSubscriptionAdded(f.name)
	}
}

func newMessageID() string {
	return uuid.New().String()
}
