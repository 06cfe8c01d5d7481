// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"

	"github.com/absmach/fanout/queue/types"
)

// Client is the queue capability a fanout needs: a non-blocking, bounded
// enqueue.
type Client interface {
	// TryEnqueue offers msg to the named queue. It never waits for capacity.
	// A rejection is reported through the Admission, not the error; errors
	// mean the outcome is unknown.
	TryEnqueue(ctx context.Context, queueName string, msg *types.Message) (types.Admission, error)
}
