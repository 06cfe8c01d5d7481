// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package filter provides message filters for fanout subscriptions.
//
// A filter travels between processes as a Spec: a kind plus string
// parameters. Every process rebuilds the executable Filter from the Spec
// through a Registry, so only kinds registered on all processes sharing a
// fanout can be used with it.
package filter

import (
	"errors"
	"maps"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Built-in filter kinds.
const (
	KindAccept  = "accept"
	KindReject  = "reject"
	KindHeaders = "headers"
	KindScript  = "script"
)

var (
	// ErrUnknownFilter is returned for a Spec whose kind is not registered.
	ErrUnknownFilter = errors.New("unknown filter kind")
	// ErrInvalidSpec is returned when a Spec's params cannot build a filter.
	ErrInvalidSpec = errors.New("invalid filter spec")
)

// Spec is the replicated description of a filter.
type Spec struct {
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params,omitempty"`
}

// Hash returns a stable hash of the spec. Params are hashed in key order.
func (s Spec) Hash() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(s.Kind)
	for _, k := range slices.Sorted(maps.Keys(s.Params)) {
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(s.Params[k])
	}
	return d.Sum64()
}

// Equal reports whether two specs describe the same filter.
func (s Spec) Equal(o Spec) bool {
	return s.Kind == o.Kind && maps.Equal(s.Params, o.Params)
}

// Filter decides whether a message is admitted into a queue. Test must be
// safe for concurrent use and free of side effects.
type Filter[V any] interface {
	Spec() Spec
	Test(payload V, headers map[string]string) (bool, error)
}

// Func adapts a function to a Filter described by spec.
type Func[V any] struct {
	spec Spec
	fn   func(payload V, headers map[string]string) (bool, error)
}

var _ Filter[any] = (*Func[any])(nil)

// NewFunc returns a Filter that calls fn.
func NewFunc[V any](spec Spec, fn func(payload V, headers map[string]string) (bool, error)) *Func[V] {
	return &Func[V]{spec: spec, fn: fn}
}

func (f *Func[V]) Spec() Spec {
	return f.spec
}

func (f *Func[V]) Test(payload V, headers map[string]string) (bool, error) {
	return f.fn(payload, headers)
}

// Accept returns the spec of a filter admitting every message.
func Accept() Spec {
	return Spec{Kind: KindAccept}
}

// Reject returns the spec of a filter rejecting every message.
func Reject() Spec {
	return Spec{Kind: KindReject}
}

// Headers returns the spec of a filter requiring every named header to match
// its glob pattern.
func Headers(patterns map[string]string) Spec {
	return Spec{Kind: KindHeaders, Params: maps.Clone(patterns)}
}

// Script returns the spec of a JavaScript filter. source is a function
// expression taking (payload, headers) and returning a boolean.
func Script(source string) Spec {
	return Spec{Kind: KindScript, Params: map[string]string{"source": source}}
}
