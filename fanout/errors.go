// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package fanout

import "errors"

var (
	// ErrInvalidArgs is returned for malformed calls, such as Publish with
	// other than exactly one message or an empty queue name.
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrRegistryConflict is returned when a subscription change keeps
	// losing compare-and-swap races after all retries.
	ErrRegistryConflict = errors.New("subscription registry conflict")

	// ErrFilterEvaluation wraps errors and panics raised by a filter, and
	// filters that cannot be rebuilt from their stored spec.
	ErrFilterEvaluation = errors.New("filter evaluation failed")

	// ErrCorruptState is returned when the stored subscription document
	// cannot be decoded.
	ErrCorruptState = errors.New("corrupt fanout state")
)
