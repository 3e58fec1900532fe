package chat

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimitThenBlocks(t *testing.T) {
	t.Parallel()

	now := time.Now()
	rl := NewRateLimiter(3, time.Second)

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d within limit should be allowed", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("event beyond limit should be rejected")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	now := time.Now()
	rl := NewRateLimiter(2, time.Second)

	if !rl.Allow(now) || !rl.Allow(now) {
		t.Fatalf("first two events should pass")
	}
	if rl.Allow(now.Add(500 * time.Millisecond)) {
		t.Fatalf("third event inside window should be rejected")
	}
	if !rl.Allow(now.Add(1100 * time.Millisecond)) {
		t.Fatalf("event after window should be allowed again")
	}
}

func TestRateLimiter_DefaultsOnInvalidConfig(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if rl.limit != rateLimitEvents || rl.window != rateLimitWindow {
		t.Fatalf("expected defaults, got limit=%d window=%v", rl.limit, rl.window)
	}
}
