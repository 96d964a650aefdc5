// Package server implements a token bucket limiter that throttles how fast
// a single connection may broadcast messages.
package server

import (
	"sync"
	"time"
)

type rateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
}

// newRateLimiter builds a bucket holding burst tokens that refills fully
// over the given interval.
func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &rateLimiter{
		tokens:   float64(burst),
		capacity: float64(burst),
		perSec:   float64(burst) / interval.Seconds(),
		last:     time.Now(),
	}
}

// allow consumes one token if available.
func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(rl.last).Seconds(); elapsed > 0 {
		rl.tokens += elapsed * rl.perSec
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}
	rl.last = now

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
