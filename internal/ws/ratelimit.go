package ws

import "time"

// slidingWindow caps inbound message rate per connection. Not safe for
// concurrent use; each connection's read loop is the only caller.
type slidingWindow struct {
	max    int
	window time.Duration
	times  []time.Time
}

func newSlidingWindow(max int, window time.Duration) *slidingWindow {
	return &slidingWindow{max: max, window: window}
}

func (s *slidingWindow) allow(now time.Time) bool {
	if s.max <= 0 {
		return true
	}
	cutoff := now.Add(-s.window)
	kept := s.times[:0]
	for _, t := range s.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.times = kept
	if len(s.times) >= s.max {
		return false
	}
	s.times = append(s.times, now)
	return true
}
