package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5)

	for i := 0; i < 5; i++ {
		if !b.Allow(1) {
			t.Fatalf("Allow #%d=false, want true within burst", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("Allow after burst=true, want false")
	}

	clk.Advance(200 * time.Millisecond)
	if !b.Allow(1) {
		t.Fatalf("Allow after 200ms refill=false, want true")
	}
	if b.Allow(1) {
		t.Fatalf("Allow after consuming refill=true, want false")
	}
}

func TestTokenBucket_ClampsToCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 2, 10)

	if !b.Allow(2) {
		t.Fatalf("initial Allow(2)=false, want true")
	}
	clk.Advance(time.Hour)
	if got := b.Tokens(); got != 2 {
		t.Fatalf("Tokens()=%d, want 2", got)
	}
	if b.Allow(3) {
		t.Fatalf("Allow(3)=true, want false above capacity")
	}
}

func TestTokenBucket_PartialRefillAccumulates(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 4)

	if !b.Allow(1) {
		t.Fatalf("initial Allow=false, want true")
	}
	clk.Advance(100 * time.Millisecond)
	if b.Allow(1) {
		t.Fatalf("Allow after 0.4 tokens=true, want false")
	}
	clk.Advance(150 * time.Millisecond)
	if !b.Allow(1) {
		t.Fatalf("Allow after 1.0 tokens=false, want true")
	}
}

func TestTokenBucket_ClockGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewTokenBucket(clk, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("initial Allow=false, want true")
	}
	clk.Advance(-time.Minute)
	if b.Allow(1) {
		t.Fatalf("Allow after clock moved back=true, want false")
	}
	clk.Advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("Allow one second after new reference=false, want true")
	}
}

func TestTokenBucket_ZeroRateAndNonPositiveCost(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 0)

	if !b.Allow(0) || !b.Allow(-1) {
		t.Fatalf("non-positive cost should always be allowed")
	}
	if !b.Allow(1) {
		t.Fatalf("initial Allow=false, want true")
	}
	clk.Advance(time.Hour)
	if b.Allow(1) {
		t.Fatalf("zero-rate bucket refilled")
	}
}

func TestTokenBucket_NilClockUsesRealClock(t *testing.T) {
	b := NewTokenBucket(nil, 1, 1)
	if !b.Allow(1) {
		t.Fatalf("Allow=false, want true")
	}
}
