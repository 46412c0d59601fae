package api

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("sess-1") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow("sess-1") {
		t.Error("request over the limit should be denied")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Minute)
	if !rl.Allow("sess-a") {
		t.Fatal("first request for sess-a should be allowed")
	}
	if !rl.Allow("sess-b") {
		t.Error("sess-b must not be throttled by sess-a's usage")
	}
	if rl.Allow("sess-a") {
		t.Error("sess-a is over its limit")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 30*time.Millisecond)
	if !rl.Allow("sess-1") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("sess-1") {
		t.Fatal("second immediate request should be denied")
	}
	time.Sleep(50 * time.Millisecond)
	if !rl.Allow("sess-1") {
		t.Error("request after the window should be allowed again")
	}
}
