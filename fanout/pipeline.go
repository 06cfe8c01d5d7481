// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"fmt"

	"github.com/absmach/fanout/filter"
)

// applyFilter evaluates flt against msg. A nil filter admits. Errors and
// panics raised by the filter reject the message with ErrFilterEvaluation.
func applyFilter[V any](flt filter.Filter[V], msg *Message[V]) (ok bool, err error) {
	if flt == nil {
		return true, nil
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%w: panic: %v", ErrFilterEvaluation, r)
		}
	}()

	ok, err = flt.Test(msg.Payload, msg.Headers)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrFilterEvaluation, err)
	}

	return ok, nil
}

// compileFilter rebuilds the filter stored for a queue. A spec that cannot
// be rebuilt on this process rejects like a failing filter.
func compileFilter[V any](filters *filter.Registry[V], spec *filter.Spec) (filter.Filter[V], error) {
	if spec == nil {
		return nil, nil
	}

	flt, err := filters.Compile(*spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFilterEvaluation, err)
	}

	return flt, nil
}
