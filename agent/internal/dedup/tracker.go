package dedup

import (
	"sync"
	"time"

	"github.com/trailwatch/trailwatch/agent/internal/scraper"
)

// Tracker remembers the last shipped sample of every source/trail pair and
// decides whether a freshly scraped sample is a new reading.
//
// An exporter keeps serving a probe's last value until the probe reports
// again. Shipping every scrape would stamp stale values with fresh server
// timestamps and hide a dead probe, so only new readings pass.
//
// All exported methods are safe for concurrent use.
type Tracker struct {
	// resend is how long an unchanged value without an exposition
	// timestamp is held back before it is shipped again. Zero never resends.
	resend time.Duration

	mu   sync.Mutex
	last map[string]*seen
}

type seen struct {
	moisture   float64
	battery    *float64
	exportedAt time.Time
	shippedAt  time.Time
}

// New returns a Tracker. See Tracker for the meaning of resend.
func New(resend time.Duration) *Tracker {
	return &Tracker{resend: resend, last: make(map[string]*seen)}
}

// Fresh reports whether s should be shipped and, if so, records it as the
// latest shipped sample for its trail.
//
// When the exporter publishes timestamps, a sample is fresh iff its timestamp
// is newer than the last shipped one. Otherwise it is fresh iff its values
// changed or the resend interval elapsed.
func (t *Tracker) Fresh(s scraper.Sample, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := s.SourceID + "/" + s.TrailID
	prev, ok := t.last[key]
	if ok && !t.changed(prev, s, now) {
		return false
	}
	t.last[key] = &seen{
		moisture:   s.Moisture,
		battery:    copyFloat(s.Battery),
		exportedAt: s.ExportedAt,
		shippedAt:  now,
	}
	return true
}

func (t *Tracker) changed(prev *seen, s scraper.Sample, now time.Time) bool {
	if !s.ExportedAt.IsZero() {
		return s.ExportedAt.After(prev.exportedAt)
	}
	if s.Moisture != prev.moisture || !sameFloat(s.Battery, prev.battery) {
		return true
	}
	return t.resend > 0 && now.Sub(prev.shippedAt) >= t.resend
}

// Forget drops the state of every source not in keep. Called after a config
// reload removes sources.
func (t *Tracker) Forget(keep map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.last {
		if !keep[sourceOf(key)] {
			delete(t.last, key)
		}
	}
}

// Len returns the number of tracked source/trail pairs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}

func sourceOf(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i]
		}
	}
	return key
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
