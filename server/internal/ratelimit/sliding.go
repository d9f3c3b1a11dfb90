package ratelimit

import "time"

// SlidingLog keeps the timestamps of each client's admitted requests and
// allows a new one while fewer than limit fall inside the trailing window.
type SlidingLog struct {
	table
}

// NewSlidingLog allows limit requests in any trailing window for each client.
func NewSlidingLog(limit int, window time.Duration, maxClients int) *SlidingLog {
	return &SlidingLog{table: newTable(limit, window, maxClients)}
}

// Allow implements Limiter.
func (s *SlidingLog) Allow(clientKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, _ := s.lookup(clientKey, now, s.expired)
	e.stamps = s.prune(e.stamps, now)
	if len(e.stamps) >= s.limit {
		return false
	}
	e.stamps = append(e.stamps, now)
	return true
}

// Sweep implements Limiter.
func (s *SlidingLog) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now, s.expired)
}

// prune drops stamps at least one window old. stamps is ascending.
func (s *SlidingLog) prune(stamps []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(stamps) && now.Sub(stamps[i]) >= s.window {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}

func (s *SlidingLog) expired(e *entry, now time.Time) bool {
	n := len(e.stamps)
	return n == 0 || now.Sub(e.stamps[n-1]) >= s.window
}
