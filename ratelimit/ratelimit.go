// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter keeps one token bucket per key. Buckets idle for two
// cleanup intervals are dropped.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter creates a keyed limiter allowing r events per second per
// key with the given burst.
func NewKeyedLimiter(r float64, burst int, cleanupInterval time.Duration) *KeyedLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	l := &KeyedLimiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether one event for key may happen now.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN reports whether n events for key may happen now. Tokens are only
// taken when all n are available.
func (l *KeyedLimiter) AllowN(key string, n int) bool {
	return l.get(key).AllowN(time.Now(), n)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *KeyedLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.limiters[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (l *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale(time.Now().Add(-l.cleanup * 2))
		case <-l.stopCh:
			return
		}
	}
}

func (l *KeyedLimiter) removeStale(threshold time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.limiters {
		if e.lastSeen.Before(threshold) {
			delete(l.limiters, key)
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *KeyedLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	Rate            float64 // messages per second per fanout
	Burst           int
	CleanupInterval time.Duration
}

// Manager limits publishes per fanout. A disabled Manager allows
// everything.
type Manager struct {
	publish *KeyedLimiter
}

// NewManager creates a new rate limit manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{}
	}

	return &Manager{
		publish: NewKeyedLimiter(cfg.Rate, cfg.Burst, cfg.CleanupInterval),
	}
}

// AllowPublish reports whether n messages may be published to fanout now.
func (m *Manager) AllowPublish(fanout string, n int) bool {
	if m == nil || m.publish == nil {
		return true
	}
	return m.publish.AllowN(fanout, max(n, 1))
}

// Stop stops the rate limiter manager and cleans up resources.
func (m *Manager) Stop() {
	if m != nil && m.publish != nil {
		m.publish.Stop()
	}
}
