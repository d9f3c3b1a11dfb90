package telemetry

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// collectionSuffix is appended to a trail id to name its reading collection.
const collectionSuffix = "-readings"

var trailIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Reading is one timestamped moisture (and optionally battery) measurement.
// Timestamp is unix milliseconds and is always assigned by the server.
type Reading struct {
	TrailID   string   `json:"-"`
	Moisture  float64  `json:"moisture"`
	Battery   *float64 `json:"battery,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// StoredReading is a Reading together with its opaque store key.
type StoredReading struct {
	Key string
	Reading
}

// Time returns the reading timestamp as a time.Time in UTC.
func (r Reading) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Millis converts t to unix milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// ValidTrailID reports whether id is a non-empty string of letters, digits
// and hyphens.
func ValidTrailID(id string) bool {
	return trailIDPattern.MatchString(id)
}

// CollectionName returns the store collection that holds readings for trailID.
func CollectionName(trailID string) string {
	return trailID + collectionSuffix
}

// TrailFromCollection extracts the trail id from a collection name.
// It returns false for names that do not follow the "<id>-readings" convention.
func TrailFromCollection(name string) (string, bool) {
	id, ok := strings.CutSuffix(name, collectionSuffix)
	if !ok || !ValidTrailID(id) {
		return "", false
	}
	return id, true
}

// SortByTime sorts rs in place, oldest first. Equal timestamps keep their
// relative order.
func SortByTime(rs []Reading) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Timestamp < rs[j].Timestamp })
}

// Latest returns the reading with the greatest timestamp, or false if rs is empty.
func Latest(rs []Reading) (Reading, bool) {
	if len(rs) == 0 {
		return Reading{}, false
	}
	best := rs[0]
	for _, r := range rs[1:] {
		if r.Timestamp > best.Timestamp {
			best = r
		}
	}
	return best, true
}

// SortTrailIDs orders ids numerically where they parse as integers ("2" before
// "10"); numeric ids come before the rest, which sort lexically.
func SortTrailIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool { return lessTrailID(ids[i], ids[j]) })
}

func lessTrailID(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
