// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"context"
	"time"

	"github.com/absmach/fanout/filter"
	"github.com/jizhuozhi/go-future"
)

// async runs fn on its own goroutine and resolves the returned future with
// its result.
func async[T any](fn func() (T, error)) *future.Future[T] {
	p := future.NewPromise[T]()
	go func() {
		p.Set(fn())
	}()
	return p.Future()
}

// PublishAsync is the asynchronous form of Publish.
func (f *Fanout[V]) PublishAsync(ctx context.Context, args PublishArgs[V]) *future.Future[*Message[V]] {
	return async(func() (*Message[V], error) {
		return f.Publish(ctx, args)
	})
}

// PublishManyAsync is the asynchronous form of PublishMany.
func (f *Fanout[V]) PublishManyAsync(ctx context.Context, args PublishArgs[V]) *future.Future[[]*Message[V]] {
	return async(func() ([]*Message[V], error) {
		return f.PublishMany(ctx, args)
	})
}

// SetFilterAsync is the asynchronous form of SetFilter.
func (f *Fanout[V]) SetFilterAsync(ctx context.Context, queueName string, spec filter.Spec) *future.Future[struct{}] {
	return async(func() (struct{}, error) {
		return struct{}{}, f.SetFilter(ctx, queueName, spec)
	})
}

// RemoveFilterAsync is the asynchronous form of RemoveFilter.
func (f *Fanout[V]) RemoveFilterAsync(ctx context.Context, queueName string) *future.Future[struct{}] {
	return async(func() (struct{}, error) {
		return struct{}{}, f.RemoveFilter(ctx, queueName)
	})
}

// IsSubscribedAsync is the asynchronous form of IsSubscribed.
func (f *Fanout[V]) IsSubscribedAsync(ctx context.Context, queueName string) *future.Future[bool] {
	return async(func() (bool, error) {
		return f.IsSubscribed(ctx, queueName)
	})
}

// SubscribeQueueAsync is the asynchronous form of SubscribeQueue.
func (f *Fanout[V]) SubscribeQueueAsync(ctx context.Context, queueName string) *future.Future[bool] {
	return async(func() (bool, error) {
		return f.SubscribeQueue(ctx, queueName)
	})
}

// SubscribeQueueWithFilterAsync is the asynchronous form of
// SubscribeQueueWithFilter.
func (f *Fanout[V]) SubscribeQueueWithFilterAsync(ctx context.Context, queueName string, spec filter.Spec) *future.Future[bool] {
	return async(func() (bool, error) {
		return f.SubscribeQueueWithFilter(ctx, queueName, spec)
	})
}

// UnsubscribeAsync is the asynchronous form of Unsubscribe.
func (f *Fanout[V]) UnsubscribeAsync(ctx context.Context, queueName string) *future.Future[bool] {
	return async(func() (bool, error) {
		return f.Unsubscribe(ctx, queueName)
	})
}

// SubscribersAsync is the asynchronous form of Subscribers.
func (f *Fanout[V]) SubscribersAsync(ctx context.Context) *future.Future[[]string] {
	return async(func() ([]string, error) {
		return f.Subscribers(ctx)
	})
}

// CountSubscribersAsync is the asynchronous form of CountSubscribers.
func (f *Fanout[V]) CountSubscribersAsync(ctx context.Context) *future.Future[int] {
	return async(func() (int, error) {
		return f.CountSubscribers(ctx)
	})
}

// SubscriptionsAsync is the asynchronous form of Subscriptions.
func (f *Fanout[V]) SubscriptionsAsync(ctx context.Context) *future.Future[[]Subscription] {
	return async(func() ([]Subscription, error) {
		return f.Subscriptions(ctx)
	})
}

// ExpireAsync is the asynchronous form of Expire.
func (f *Fanout[V]) ExpireAsync(ctx context.Context, ttl time.Duration) *future.Future[bool] {
	return async(func() (bool, error) {
		return f.Expire(ctx, ttl)
	})
}

// DeleteAsync is the asynchronous form of Delete.
func (f *Fanout[V]) DeleteAsync(ctx context.Context) *future.Future[bool] {
	return async(func() (bool, error) {
		return f.Delete(ctx)
	})
}

// ExistsAsync is the asynchronous form of Exists.
func (f *Fanout[V]) ExistsAsync(ctx context.Context) *future.Future[bool] {
	return async(func() (bool, error) {
		return f.Exists(ctx)
	})
}
