// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package fanout

import (
	"fmt"
	"time"

	"github.com/absmach/fanout/codec"
)

// Message is a published message. It is never modified after creation.
type Message[V any] struct {
	ID        string            `json:"id"`
	Payload   V                 `json:"payload"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	DedupKey  string            `json:"dedup_key,omitempty"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
}

// MessageArgs describes one message to publish.
type MessageArgs[V any] struct {
	Payload V
	Headers map[string]string

	// DedupID marks the message as a duplicate of any message published to
	// the same fanout with the same id inside the dedup interval.
	DedupID string
	// DedupByHash derives the dedup id from the hash of the encoded payload.
	// Ignored when DedupID is set.
	DedupByHash bool
	// DedupInterval overrides the fanout's default dedup window.
	DedupInterval time.Duration

	// TTL bounds how long the message stays deliverable in each queue.
	TTL time.Duration
}

// PublishArgs holds the messages of one publish call.
type PublishArgs[V any] struct {
	Messages []MessageArgs[V]

	// Timeout bounds each queue admission attempt. Zero uses the fanout
	// default.
	Timeout time.Duration
}

// Payload returns args for a single message without headers or dedup.
func Payload[V any](payload V) PublishArgs[V] {
	return PublishArgs[V]{Messages: []MessageArgs[V]{{Payload: payload}}}
}

// Payloads returns args for a batch of plain messages.
func Payloads[V any](payloads ...V) PublishArgs[V] {
	args := PublishArgs[V]{Messages: make([]MessageArgs[V], len(payloads))}
	for i, p := range payloads {
		args.Messages[i] = MessageArgs[V]{Payload: p}
	}
	return args
}

// Expired reports whether the message is past its expiry at now.
func (m *Message[V]) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

// Decode decodes a message read from a queue. c must be the codec of the
// fanout that published it.
func Decode[V any](c codec.Codec, data []byte) (*Message[V], error) {
	var msg Message[V]
	if err := c.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}
