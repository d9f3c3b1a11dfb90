package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Named windows offered by the dashboard.
const (
	Window24h   = 24 * time.Hour
	Window48h   = 48 * time.Hour
	WindowWeek  = 7 * 24 * time.Hour
	WindowMonth = 30 * 24 * time.Hour
)

var namedWindows = map[string]time.Duration{
	"24h":   Window24h,
	"48h":   Window48h,
	"week":  WindowWeek,
	"7d":    WindowWeek,
	"month": WindowMonth,
	"30d":   WindowMonth,
}

// ParseWindow resolves a window selector. Named windows ("24h", "48h",
// "week", "7d", "month", "30d") are tried first, then Go duration syntax.
// An empty selector returns def.
func ParseWindow(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return def, nil
	}
	if d, ok := namedWindows[s]; ok {
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("unknown window %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window %q must be positive", s)
	}
	return d, nil
}

// InWindow reports whether a reading taken at ts (unix millis) lies within w
// of now. The edge is inclusive: now - ts == w is retained.
func InWindow(ts int64, now time.Time, w time.Duration) bool {
	return Millis(now)-ts <= w.Milliseconds()
}

// FilterWindow returns the readings of rs that lie within w of now, in their
// original order. Both the server-side queries and dashboard sub-windows go
// through InWindow so the boundary is identical everywhere.
func FilterWindow(rs []Reading, now time.Time, w time.Duration) []Reading {
	out := make([]Reading, 0, len(rs))
	for _, r := range rs {
		if InWindow(r.Timestamp, now, w) {
			out = append(out, r)
		}
	}
	return out
}
