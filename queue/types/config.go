// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"time"
)

// ErrInvalidConfig indicates an invalid queue configuration.
var ErrInvalidConfig = errors.New("invalid queue configuration")

// Default limits applied to queues created on first admission.
const (
	DefaultMaxSize        = 100000
	DefaultMaxMessageSize = 1024 * 1024 // 1MB
)

// QueueConfig defines the admission policy of a queue.
type QueueConfig struct {
	Name string `json:"name"`

	// Limits; 0 means unlimited.
	MaxSize        int64 `json:"max_size"`
	MaxMessageSize int64 `json:"max_message_size"`

	// MessageTTL bounds how long a message stays deliverable when the
	// message does not carry its own expiry. 0 disables it.
	MessageTTL time.Duration `json:"message_ttl"`
}

// DefaultQueueConfig returns default queue configuration.
func DefaultQueueConfig(name string) QueueConfig {
	return QueueConfig{
		Name:           name,
		MaxSize:        DefaultMaxSize,
		MaxMessageSize: DefaultMaxMessageSize,
	}
}

// Validate validates queue configuration.
func (c *QueueConfig) Validate() error {
	switch {
	case c.Name == "":
		return ErrInvalidConfig
	case c.MaxSize < 0:
		return ErrInvalidConfig
	case c.MaxMessageSize < 0:
		return ErrInvalidConfig
	case c.MessageTTL < 0:
		return ErrInvalidConfig
	}

	return nil
}

// Admit decides whether a message of size bytes fits a queue that currently
// holds depth messages.
func (c *QueueConfig) Admit(depth int64, size int) Admission {
	if c.MaxMessageSize > 0 && int64(size) > c.MaxMessageSize {
		return RejectedOversized
	}
	if c.MaxSize > 0 && depth >= c.MaxSize {
		return RejectedFull
	}
	return Accepted
}

// ApplyTTL sets the expiry of a message that carries none from MessageTTL.
func (c *QueueConfig) ApplyTTL(m *Message, now time.Time) {
	if c.MessageTTL > 0 && m.ExpiresAt.IsZero() {
		m.ExpiresAt = now.Add(c.MessageTTL)
	}
}
