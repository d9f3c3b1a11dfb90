package ratelimit

import "time"

// FixedWindow counts requests per client in windows that start at the
// client's first request and reset once W has passed. Denied attempts still
// count, so retrying inside the window does not help.
type FixedWindow struct {
	table
}

// NewFixedWindow allows limit requests per window for each client.
func NewFixedWindow(limit int, window time.Duration, maxClients int) *FixedWindow {
	return &FixedWindow{table: newTable(limit, window, maxClients)}
}

// Allow implements Limiter.
func (f *FixedWindow) Allow(clientKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	e, created := f.lookup(clientKey, now, f.expired)
	if created || now.Sub(e.start) > f.window {
		e.start = now
		e.count = 1
		return true
	}
	e.count++
	return e.count <= f.limit
}

// Sweep implements Limiter.
func (f *FixedWindow) Sweep(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweepLocked(now, f.expired)
}

func (f *FixedWindow) expired(e *entry, now time.Time) bool {
	return now.Sub(e.start) > f.window
}
