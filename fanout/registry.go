// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/absmach/fanout/codec"
	"github.com/absmach/fanout/filter"
	"github.com/absmach/fanout/kv"
	"github.com/cenkalti/backoff/v5"
)

const (
	conflictInitialInterval = 5 * time.Millisecond
	conflictMaxInterval     = 250 * time.Millisecond
)

// Subscription is a queue subscribed to a fanout.
type Subscription struct {
	Queue        string       `json:"queue"`
	Filter       *filter.Spec `json:"filter,omitempty"`
	SubscribedAt time.Time    `json:"subscribed_at"`
}

type subscriptionState struct {
	SubscribedAt time.Time `json:"subscribed_at"`
}

// state is the replicated document holding every subscription of a fanout.
// Filters are kept apart from subscriptions so that a filter can be set on
// a queue before it subscribes.
type state struct {
	Subscriptions map[string]subscriptionState `json:"subscriptions"`
	Filters       map[string]filter.Spec       `json:"filters"`
}

func newState() *state {
	return &state{
		Subscriptions: make(map[string]subscriptionState),
		Filters:       make(map[string]filter.Spec),
	}
}

func (s *state) subscribed(queue string) bool {
	_, ok := s.Subscriptions[queue]
	return ok
}

// filterOf returns the effective filter of a subscribed queue.
func (s *state) filterOf(queue string) *filter.Spec {
	spec, ok := s.Filters[queue]
	if !ok {
		return nil
	}
	return &spec
}

// subscriptions returns the subscriptions sorted by queue name.
func (s *state) subscriptions() []Subscription {
	subs := make([]Subscription, 0, len(s.Subscriptions))
	for queue, sub := range s.Subscriptions {
		subs = append(subs, Subscription{
			Queue:        queue,
			Filter:       s.filterOf(queue),
			SubscribedAt: sub.SubscribedAt,
		})
	}
	slices.SortFunc(subs, func(a, b Subscription) int {
		switch {
		case a.Queue < b.Queue:
			return -1
		case a.Queue > b.Queue:
			return 1
		default:
			return 0
		}
	})
	return subs
}

// registry reads and mutates the state document of one fanout. It holds no
// state between calls; every read goes to the store.
type registry struct {
	store   kv.Store
	key     string
	codec   codec.Codec
	retries int
}

func newRegistry(store kv.Store, name string, retries int) *registry {
	return &registry{
		store:   store,
		key:     stateKey(name),
		codec:   codec.Msgpack{},
		retries: retries,
	}
}

func stateKey(name string) string {
	return "fanout:" + name + ":state"
}

// snapshot returns the current state. A missing document is an empty state.
func (r *registry) snapshot(ctx context.Context) (*state, error) {
	st, _, err := r.load(ctx)
	return st, err
}

func (r *registry) load(ctx context.Context) (*state, int64, error) {
	entry, err := r.store.Get(ctx, r.key)
	if errors.Is(err, kv.ErrNotFound) {
		return newState(), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read fanout state: %w", err)
	}

	st := newState()
	if err := r.codec.Unmarshal(entry.Value, st); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if st.Subscriptions == nil {
		st.Subscriptions = make(map[string]subscriptionState)
	}
	if st.Filters == nil {
		st.Filters = make(map[string]filter.Spec)
	}

	return st, entry.Revision, nil
}

// update applies fn to a fresh copy of the state and writes the result
// with compare-and-swap. fn reports whether it changed the state; an
// unchanged state is not written. fn may run several times and must derive
// its outcome from the state it is given.
func (r *registry) update(ctx context.Context, fn func(st *state) bool) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = conflictInitialInterval
	b.MaxInterval = conflictMaxInterval

	for attempt := 0; ; attempt++ {
		st, rev, err := r.load(ctx)
		if err != nil {
			return err
		}
		if !fn(st) {
			return nil
		}

		data, err := r.codec.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to encode fanout state: %w", err)
		}

		err = r.store.CompareAndSwap(ctx, r.key, rev, data)
		if err == nil {
			return nil
		}
		if !errors.Is(err, kv.ErrConflict) {
			return fmt.Errorf("failed to write fanout state: %w", err)
		}
		if attempt >= r.retries {
			return ErrRegistryConflict
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}
}

func (r *registry) subscribe(ctx context.Context, queue string, spec *filter.Spec) (bool, error) {
	var added bool
	err := r.update(ctx, func(st *state) bool {
		added = !st.subscribed(queue)
		if !added {
			return false
		}

		st.Subscriptions[queue] = subscriptionState{SubscribedAt: time.Now().UTC()}
		if spec != nil {
			st.Filters[queue] = *spec
		}
		return true
	})

	return added, err
}

func (r *registry) unsubscribe(ctx context.Context, queue string) (bool, error) {
	var removed bool
	err := r.update(ctx, func(st *state) bool {
		removed = st.subscribed(queue)
		_, hasFilter := st.Filters[queue]

		delete(st.Subscriptions, queue)
		delete(st.Filters, queue)
		return removed || hasFilter
	})

	return removed, err
}

func (r *registry) setFilter(ctx context.Context, queue string, spec filter.Spec) error {
	return r.update(ctx, func(st *state) bool {
		if current, ok := st.Filters[queue]; ok && current.Equal(spec) {
			return false
		}
		st.Filters[queue] = spec
		return true
	})
}

func (r *registry) removeFilter(ctx context.Context, queue string) error {
	return r.update(ctx, func(st *state) bool {
		if _, ok := st.Filters[queue]; !ok {
			return false
		}
		delete(st.Filters, queue)
		return true
	})
}
