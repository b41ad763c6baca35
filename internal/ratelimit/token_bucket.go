package ratelimit

import (
	"sync"
	"time"
)

// microTokensPerToken is the fixed-point scale: one token is 1e6 micro-tokens,
// so refill never loses fractions of a token to float rounding.
const microTokensPerToken int64 = 1_000_000

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket limits events to a steady rate (tokens per second) with bursts
// up to capacity. The bucket starts full.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // micro-tokens
	rate     int64 // tokens/sec

	available int64 // micro-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, tokensPerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := toMicro(max(capacityTokens, 0))
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      max(tokensPerSecond, 0),
		available: capacity,
		last:      clock.Now(),
	}
}

// Allow takes n tokens if they are all available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toMicro(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(b.clock.Now())
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

// Tokens reports the whole tokens currently available.
func (b *TokenBucket) Tokens() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.clock.Now())
	return b.available / microTokensPerToken
}

func (b *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last)
	b.last = now
	// A clock that moved backwards only resets the reference point.
	if elapsed <= 0 || b.rate == 0 || b.available >= b.capacity {
		return
	}

	// rate tokens/sec == rate micro-tokens/µs.
	micros := elapsed.Microseconds()
	missing := b.capacity - b.available
	if micros >= missing/b.rate+1 {
		b.available = b.capacity
		return
	}
	b.available = min(b.available+micros*b.rate, b.capacity)
}

func toMicro(tokens int64) int64 {
	if tokens > maxInt64/microTokensPerToken {
		return maxInt64
	}
	return tokens * microTokensPerToken
}
