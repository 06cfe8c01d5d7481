// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"fmt"

	"github.com/gobwas/glob"
)

func newAccept[V any](spec Spec) (Filter[V], error) {
	return NewFunc(spec, func(V, map[string]string) (bool, error) {
		return true, nil
	}), nil
}

func newReject[V any](spec Spec) (Filter[V], error) {
	return NewFunc(spec, func(V, map[string]string) (bool, error) {
		return false, nil
	}), nil
}

type headersFilter[V any] struct {
	spec     Spec
	patterns map[string]glob.Glob
}

func newHeaders[V any](spec Spec) (Filter[V], error) {
	patterns := make(map[string]glob.Glob, len(spec.Params))
	for header, pattern := range spec.Params {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: header %q: %v", ErrInvalidSpec, header, err)
		}
		patterns[header] = g
	}

	return &headersFilter[V]{spec: spec, patterns: patterns}, nil
}

func (f *headersFilter[V]) Spec() Spec {
	return f.spec
}

// Test requires every configured header to be present and match.
func (f *headersFilter[V]) Test(_ V, headers map[string]string) (bool, error) {
	for header, g := range f.patterns {
		value, ok := headers[header]
		if !ok || !g.Match(value) {
			return false, nil
		}
	}
	return true, nil
}
