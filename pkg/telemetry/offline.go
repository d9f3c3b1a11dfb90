package telemetry

import "time"

// DefaultOfflineThreshold is how old the newest reading may be before a trail
// counts as offline. Sensors report roughly hourly.
const DefaultOfflineThreshold = 65 * time.Minute

// IsOffline reports whether a trail with the given readings (already limited
// to the selected window) should be shown as offline at now. No readings at
// all means offline; otherwise the newest one must be at most threshold old.
// The result depends on the window, so callers recompute it whenever the
// window changes.
func IsOffline(windowed []Reading, now time.Time, threshold time.Duration) bool {
	latest, ok := Latest(windowed)
	if !ok {
		return true
	}
	return Millis(now)-latest.Timestamp > threshold.Milliseconds()
}
