package realtime

import (
	"testing"
	"time"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Second)
	base := time.Unix(1_700_000_000, 0)

	for i := range 3 {
		if !rl.Allow(base.Add(time.Duration(i) * 100 * time.Millisecond)) {
			t.Fatalf("event %d should pass", i)
		}
	}
	if rl.Allow(base.Add(300 * time.Millisecond)) {
		t.Fatalf("fourth event inside the window should be limited")
	}
	if !rl.Allow(base.Add(1050 * time.Millisecond)) {
		t.Fatalf("first event left the window; expected a free slot")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.limit != rateLimitEvents || rl.window != rateLimitWindow {
		t.Fatalf("defaults not applied: limit=%d window=%s", rl.limit, rl.window)
	}
}
