package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newClosedOnCleanup(t *testing.T, rate float64, burst int) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter(rate, burst)
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return m
}

func TestAllowWithinBurst(t *testing.T) {
	m := newClosedOnCleanup(t, 10, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := m.Allow(ctx, "client-a")
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d inside the burst was denied", i)
		}
	}
}

func TestDenyOnceBurstSpent(t *testing.T) {
	m := newClosedOnCleanup(t, 10, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := m.Allow(ctx, "client-a"); !ok {
			t.Fatalf("request %d inside the burst was denied", i)
		}
	}
	if ok, _ := m.Allow(ctx, "client-a"); ok {
		t.Fatal("request beyond the burst was allowed")
	}
}

func TestLazyRefill(t *testing.T) {
	// 1000 tokens/s refills one token per millisecond.
	m := newClosedOnCleanup(t, 1000, 2)
	ctx := context.Background()

	m.Allow(ctx, "client-a")
	m.Allow(ctx, "client-a")
	if ok, _ := m.Allow(ctx, "client-a"); ok {
		t.Fatal("empty bucket allowed a request")
	}

	time.Sleep(5 * time.Millisecond)

	ok, err := m.Allow(ctx, "client-a")
	if err != nil {
		t.Fatalf("Allow after refill: %v", err)
	}
	if !ok {
		t.Fatal("bucket did not refill after waiting")
	}
}

func TestRefillCapsAtBurst(t *testing.T) {
	m := newClosedOnCleanup(t, 1000, 3)
	ctx := context.Background()

	m.Allow(ctx, "client-a")
	m.mu.Lock()
	m.buckets["client-a"].touch = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	// An hour of refill still yields only the burst capacity.
	for i := 0; i < 3; i++ {
		if ok, _ := m.Allow(ctx, "client-a"); !ok {
			t.Fatalf("request %d after long idle was denied", i)
		}
	}
	if ok, _ := m.Allow(ctx, "client-a"); ok {
		t.Fatal("bucket exceeded burst capacity after long idle")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	m := newClosedOnCleanup(t, 10, 1)
	ctx := context.Background()

	if ok, _ := m.Allow(ctx, "a"); !ok {
		t.Fatal("first request for a denied")
	}
	if ok, _ := m.Allow(ctx, "a"); ok {
		t.Fatal("second request for a allowed with burst 1")
	}
	if ok, _ := m.Allow(ctx, "b"); !ok {
		t.Fatal("exhausting a throttled b")
	}
}

func TestConcurrentAllowBoundedByBurst(t *testing.T) {
	m := newClosedOnCleanup(t, 100, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	counts := make([]int, 10)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if ok, err := m.Allow(ctx, "shared"); err != nil {
					t.Errorf("Allow: %v", err)
					return
				} else if ok {
					counts[idx]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, c := range counts {
		total += c
	}
	if total < 1 || total > 50 {
		t.Fatalf("100 concurrent requests against burst 50: %d allowed", total)
	}
}

func TestEvictIdleDropsOldBuckets(t *testing.T) {
	m := newClosedOnCleanup(t, 10, 5)
	ctx := context.Background()

	m.Allow(ctx, "old")
	m.Allow(ctx, "fresh")
	m.mu.Lock()
	m.buckets["old"].touch = time.Now().Add(-15 * time.Minute)
	m.mu.Unlock()

	m.evictIdle(time.Now().Add(-idleTTL))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets["old"]; ok {
		t.Fatal("idle bucket survived eviction")
	}
	if _, ok := m.buckets["fresh"]; !ok {
		t.Fatal("active bucket was evicted")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	if err := m.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNoopLimiterAlwaysAllows(t *testing.T) {
	var l NoopLimiter
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(ctx, "anything")
		if err != nil || !ok {
			t.Fatalf("NoopLimiter denied request %d (ok=%v err=%v)", i, ok, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
