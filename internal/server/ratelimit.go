package server

import (
	"sync"
	"time"
)

// rateLimiter is a per-client sliding-window counter.
type rateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// allow records a request from client and reports whether it is within the
// limit, plus how many requests remain in the current window.
func (l *rateLimiter) allow(client string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := prune(l.hits[client], cutoff)
	if len(kept) >= l.limit {
		l.hits[client] = kept
		return false, 0
	}
	kept = append(kept, now)
	l.hits[client] = kept

	if now.Sub(l.lastSweep) > l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}
	return true, l.limit - len(kept)
}

// sweep drops clients with no requests in the window.
func (l *rateLimiter) sweep(cutoff time.Time) {
	for k, v := range l.hits {
		if v = prune(v, cutoff); len(v) == 0 {
			delete(l.hits, k)
		} else {
			l.hits[k] = v
		}
	}
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}
