package realtime

import (
	"sync"
	"time"
)

// RateLimiter caps inbound frames per subscriber over a sliding window.
type RateLimiter struct {
	mu     sync.Mutex
	seen   []time.Time
	limit  int
	window time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{seen: make([]time.Time, 0, limit), limit: limit, window: window}
}

// Allow records a frame at now and reports whether it is within the limit.
// Refused frames are not recorded.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	i := 0
	for i < len(r.seen) && !r.seen[i].After(cut) {
		i++
	}
	r.seen = append(r.seen[:0], r.seen[i:]...)

	if len(r.seen) >= r.limit {
		return false
	}
	r.seen = append(r.seen, now)
	return true
}
