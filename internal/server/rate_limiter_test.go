package server

import (
	"testing"
	"time"
)

func TestRateLimiterBurst(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("allow() = false within burst, call %d", i+1)
		}
	}
	if rl.allow() {
		t.Error("allow() = true after burst exhausted")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(2, 100*time.Millisecond)

	if !rl.allow() || !rl.allow() {
		t.Fatal("burst tokens missing")
	}
	if rl.allow() {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(150 * time.Millisecond)
	if !rl.allow() {
		t.Error("bucket did not refill after interval")
	}
}

func TestRateLimiterDefensiveDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	if !rl.allow() {
		t.Error("limiter with clamped parameters must still grant a token")
	}
}
