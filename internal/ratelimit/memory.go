package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	evictEvery = time.Minute
	idleTTL    = 10 * time.Minute
)

// tokenBucket tracks the remaining budget for one key. Refill happens
// lazily on access, proportional to the time since the last touch.
type tokenBucket struct {
	level float64
	touch time.Time
}

func (b *tokenBucket) refill(now time.Time, perSecond, cap float64) {
	b.level += now.Sub(b.touch).Seconds() * perSecond
	if b.level > cap {
		b.level = cap
	}
	b.touch = now
}

// MemoryLimiter is an in-process Limiter: one lazily-refilled token bucket
// per key, suitable for a single-instance deployment. Idle keys are evicted
// by a background sweep so an open ingest surface cannot grow the map
// without bound.
type MemoryLimiter struct {
	perSecond float64
	cap       float64

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryLimiter returns a limiter allowing a sustained rate of
// `rate` requests per second per key with bursts up to `burst`.
// Close stops the eviction sweep.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		perSecond: rate,
		cap:       float64(burst),
		buckets:   make(map[string]*tokenBucket),
		done:      make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow takes one token for key, reporting whether the request may proceed.
// An unseen key starts with a full bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &tokenBucket{level: m.cap, touch: now}
		m.buckets[key] = b
	} else {
		b.refill(now, m.perSecond, m.cap)
	}

	if b.level < 1 {
		return false, nil
	}
	b.level--
	return true, nil
}

// Close stops the eviction goroutine. Idempotent.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(evictEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle(time.Now().Add(-idleTTL))
		}
	}
}

func (m *MemoryLimiter) evictIdle(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		if b.touch.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
