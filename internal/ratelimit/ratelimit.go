// Package ratelimit implements a per-key sliding window rate limiter used to
// throttle click tracking per IP fingerprint. State is process local; each
// replica enforces its own window.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow counts events per key over a trailing window. A key is
// allowed while strictly fewer than limit events occurred within the window
// ending now.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time
}

// Stats is a point-in-time view of limiter occupancy.
type Stats struct {
	Keys   int
	Events int
}

// NewSlidingWindow returns a limiter allowing limit events per window per
// key. A limit of zero or less disables the limiter; Allow always passes.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
	}
}

// Allow records an event for key at now and reports whether it fit inside
// the limit. Rejected events are not recorded, so a burst does not extend
// its own penalty.
func (s *SlidingWindow) Allow(key string, now time.Time) bool {
	if s.limit <= 0 {
		return true
	}
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := pruneBefore(s.events[key], cutoff)
	if len(kept) >= s.limit {
		if len(kept) == 0 {
			delete(s.events, key)
		} else {
			s.events[key] = kept
		}
		return false
	}
	s.events[key] = append(kept, now)
	return true
}

// Sweep drops keys whose events all fell out of the window. Called
// periodically so idle keys do not accumulate.
func (s *SlidingWindow) Sweep(now time.Time) {
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, evs := range s.events {
		kept := pruneBefore(evs, cutoff)
		if len(kept) == 0 {
			delete(s.events, key)
		} else {
			s.events[key] = kept
		}
	}
}

// Stats returns current occupancy counts.
func (s *SlidingWindow) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Keys: len(s.events)}
	for _, evs := range s.events {
		st.Events += len(evs)
	}
	return st
}

func pruneBefore(evs []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(evs) && !evs[i].After(cutoff) {
		i++
	}
	return evs[i:]
}
