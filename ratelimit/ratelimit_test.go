// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestKeyedLimiter_Allow(t *testing.T) {
	// 5 events per second, burst of 2
	limiter := NewKeyedLimiter(5, 2, time.Minute)
	defer limiter.Stop()

	if !limiter.Allow("orders") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("orders") {
		t.Error("Second request (within burst) should be allowed")
	}
	if limiter.Allow("orders") {
		t.Error("Third request should be rate limited (burst exhausted)")
	}

	time.Sleep(250 * time.Millisecond)

	if !limiter.Allow("orders") {
		t.Error("Request after token refill should be allowed")
	}
}

func TestKeyedLimiter_DifferentKeys(t *testing.T) {
	limiter := NewKeyedLimiter(1, 1, time.Minute)
	defer limiter.Stop()

	if !limiter.Allow("orders") {
		t.Error("First request for orders should be allowed")
	}
	if !limiter.Allow("payments") {
		t.Error("First request for payments should be allowed")
	}
	if limiter.Allow("orders") {
		t.Error("Second request for orders should be rate limited")
	}
	if limiter.Len() != 2 {
		t.Errorf("expected 2 tracked keys, got %d", limiter.Len())
	}
}

func TestKeyedLimiter_AllowN(t *testing.T) {
	limiter := NewKeyedLimiter(1, 5, time.Minute)
	defer limiter.Stop()

	if limiter.AllowN("orders", 6) {
		t.Error("Batch larger than burst should be rejected")
	}
	// A rejected batch takes no tokens.
	if !limiter.AllowN("orders", 5) {
		t.Error("Batch within burst should be allowed")
	}
	if limiter.Allow("orders") {
		t.Error("Bucket should be empty")
	}
}

func TestKeyedLimiter_RemoveStale(t *testing.T) {
	limiter := NewKeyedLimiter(1, 1, time.Minute)
	defer limiter.Stop()

	limiter.Allow("orders")
	limiter.removeStale(time.Now().Add(time.Second))

	if limiter.Len() != 0 {
		t.Errorf("expected stale key removed, got %d keys", limiter.Len())
	}
}

func TestKeyedLimiter_StopTwice(t *testing.T) {
	limiter := NewKeyedLimiter(1, 1, time.Minute)
	limiter.Stop()
	limiter.Stop()
}

func TestManager_Disabled(t *testing.T) {
	m := NewManager(Config{Enabled: false})
	defer m.Stop()

	for i := 0; i < 100; i++ {
		if !m.AllowPublish("orders", 10) {
			t.Fatal("Disabled manager should allow everything")
		}
	}

	var nilManager *Manager
	if !nilManager.AllowPublish("orders", 1) {
		t.Error("Nil manager should allow everything")
	}
}

func TestManager_AllowPublish(t *testing.T) {
	m := NewManager(Config{Enabled: true, Rate: 1, Burst: 3, CleanupInterval: time.Minute})
	defer m.Stop()

	if !m.AllowPublish("orders", 2) {
		t.Error("Publish within burst should be allowed")
	}
	if m.AllowPublish("orders", 2) {
		t.Error("Publish beyond remaining tokens should be rejected")
	}
	if !m.AllowPublish("orders", 0) {
		t.Error("Empty publish counts as one and should be allowed")
	}
	if !m.AllowPublish("payments", 3) {
		t.Error("Fanouts are limited independently")
	}
}
