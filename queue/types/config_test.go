// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  QueueConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  DefaultQueueConfig("orders"),
			wantErr: false,
		},
		{
			name:    "unlimited config",
			config:  QueueConfig{Name: "orders"},
			wantErr: false,
		},
		{
			name:    "empty name",
			config:  QueueConfig{MaxSize: 10},
			wantErr: true,
		},
		{
			name:    "negative max size",
			config:  QueueConfig{Name: "orders", MaxSize: -1},
			wantErr: true,
		},
		{
			name:    "negative message size",
			config:  QueueConfig{Name: "orders", MaxMessageSize: -1},
			wantErr: true,
		},
		{
			name:    "negative ttl",
			config:  QueueConfig{Name: "orders", MessageTTL: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQueueConfig_Admit(t *testing.T) {
	cfg := QueueConfig{Name: "orders", MaxSize: 2, MaxMessageSize: 8}

	assert.Equal(t, Accepted, cfg.Admit(0, 8))
	assert.Equal(t, Accepted, cfg.Admit(1, 1))
	assert.Equal(t, RejectedFull, cfg.Admit(2, 1))
	assert.Equal(t, RejectedOversized, cfg.Admit(0, 9))
	// Size is checked before depth.
	assert.Equal(t, RejectedOversized, cfg.Admit(2, 9))

	unlimited := QueueConfig{Name: "all"}
	assert.Equal(t, Accepted, unlimited.Admit(1<<40, 1<<30))
}

func TestAdmission_String(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "rejected_full", RejectedFull.String())
	assert.Equal(t, "rejected_oversized", RejectedOversized.String())
	assert.Equal(t, "unknown", Admission(42).String())
}

func TestMessage_Expired(t *testing.T) {
	now := time.Now()

	m := &Message{}
	assert.False(t, m.Expired(now))

	m.ExpiresAt = now.Add(time.Second)
	assert.False(t, m.Expired(now))
	assert.True(t, m.Expired(now.Add(time.Second)))
}
