package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Algorithm names accepted by New.
const (
	AlgorithmFixed   = "fixed"
	AlgorithmSliding = "sliding"
)

// Limiter decides whether one more request from a client may proceed.
// Allow records the attempt; it never errors.
type Limiter interface {
	Allow(clientKey string) bool
	// Len returns the number of clients currently tracked.
	Len() int
	// Sweep drops clients whose window has fully expired at now and returns
	// how many were dropped.
	Sweep(now time.Time) int
}

// Config selects and sizes a Limiter.
type Config struct {
	Algorithm string
	Requests  int
	Window    time.Duration
	// MaxClients caps the client map. Zero means unbounded.
	MaxClients int
}

// New builds the limiter named by cfg.Algorithm. An empty algorithm selects
// the sliding log.
func New(cfg Config) (Limiter, error) {
	if cfg.Requests < 1 {
		return nil, fmt.Errorf("ratelimit: requests must be >= 1, got %d", cfg.Requests)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", cfg.Window)
	}
	switch cfg.Algorithm {
	case AlgorithmFixed:
		return NewFixedWindow(cfg.Requests, cfg.Window, cfg.MaxClients), nil
	case AlgorithmSliding, "":
		return NewSlidingLog(cfg.Requests, cfg.Window, cfg.MaxClients), nil
	default:
		return nil, fmt.Errorf("ratelimit: unknown algorithm %q", cfg.Algorithm)
	}
}

// Run sweeps l every interval until ctx is cancelled.
func Run(ctx context.Context, l Limiter, interval time.Duration) {
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := l.Sweep(now); n > 0 {
				slog.Debug("ratelimit: swept expired clients", "count", n, "remaining", l.Len())
			}
		}
	}
}

// entry is the per-client state. FixedWindow uses start and count,
// SlidingLog uses stamps.
type entry struct {
	start    time.Time
	count    int
	stamps   []time.Time
	lastSeen time.Time
}

// table is the client map shared by both algorithms.
type table struct {
	mu         sync.Mutex
	entries    map[string]*entry
	limit      int
	window     time.Duration
	maxClients int
	now        func() time.Time // injectable for deterministic tests
}

func newTable(limit int, window time.Duration, maxClients int) table {
	return table{
		entries:    make(map[string]*entry),
		limit:      limit,
		window:     window,
		maxClients: maxClients,
		now:        time.Now,
	}
}

func (t *table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// lookup returns the entry for key, creating it when absent. Must be called
// with t.mu held. expired reports whether an entry can be dropped at now.
func (t *table) lookup(key string, now time.Time, expired func(*entry, time.Time) bool) (*entry, bool) {
	if e, ok := t.entries[key]; ok {
		e.lastSeen = now
		return e, false
	}
	if t.maxClients > 0 && len(t.entries) >= t.maxClients {
		t.sweepLocked(now, expired)
		if len(t.entries) >= t.maxClients {
			t.evictOldestLocked()
		}
	}
	e := &entry{lastSeen: now}
	t.entries[key] = e
	return e, true
}

func (t *table) sweepLocked(now time.Time, expired func(*entry, time.Time) bool) int {
	removed := 0
	for k, e := range t.entries {
		if expired(e, now) {
			delete(t.entries, k)
			removed++
		}
	}
	return removed
}

// evictOldestLocked drops the least recently seen client. The client may
// still be inside its window; if it returns it starts a fresh one, so the
// per-window bound only holds for clients that stay within the
// maxClients most recently seen.
func (t *table) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range t.entries {
		if !found || e.lastSeen.Before(oldest) {
			oldestKey, oldest, found = k, e.lastSeen, true
		}
	}
	if found {
		delete(t.entries, oldestKey)
	}
}
