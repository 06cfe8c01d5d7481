// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package types

// Admission is the outcome of a bounded enqueue attempt.
type Admission int

const (
	Accepted Admission = iota
	RejectedFull
	RejectedOversized
)

func (a Admission) String() string {
	switch a {
	case Accepted:
		return "accepted"
	case RejectedFull:
		return "rejected_full"
	case RejectedOversized:
		return "rejected_oversized"
	default:
		return "unknown"
	}
}
