// Package query answers the read side: latest reading per trail, the
// multi-trail snapshot, windowed history with smoothing, and offline and
// condition classification. Engine is stateless; everything is recomputed
// from the store on each call.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
	"github.com/trailwatch/trailwatch/server/internal/store"
)

// ErrNotFound means no trail (or, for History, the named trail) has any
// reading.
var ErrNotFound = errors.New("not found")

// DefaultLatestFetch is how many readings by store order Latest inspects.
const DefaultLatestFetch = 5

// Options tunes an Engine.
type Options struct {
	// LatestFetch readings are fetched by store order and re-sorted by
	// timestamp to find the latest one.
	LatestFetch      int
	OfflineThreshold time.Duration
	Bands            telemetry.Bands
}

// Status is the current state of one trail.
type Status struct {
	TrailID   string
	Latest    telemetry.StoredReading
	Condition string
	Offline   bool
}

// Age returns how old the latest reading is at now.
func (s Status) Age(now time.Time) time.Duration {
	return now.Sub(s.Latest.Time())
}

// TrailHistory is a Status plus the trail's readings inside the window,
// oldest first.
type TrailHistory struct {
	Status
	Readings []telemetry.Reading
}

// DataRange spans the earliest and latest included reading.
type DataRange struct {
	From time.Time
	To   time.Time
}

// HistorySnapshot is the multi-trail snapshot with per-trail history.
type HistorySnapshot struct {
	Trails []TrailHistory
	// Range is nil when no trail has a reading inside the window.
	Range *DataRange
}

// History is the detailed view of one trail over a window.
type History struct {
	TrailID  string
	Window   time.Duration
	Readings []telemetry.Reading
	// Smoothed is the trailing moving average; nil unless requested with
	// k > 1 and there are at least k readings.
	Smoothed []telemetry.Point
	// Latest is the newest reading inside the window.
	Latest    *telemetry.Reading
	Offline   bool
	Condition string
}

// Engine runs queries against a store.
type Engine struct {
	store store.Store
	opts  Options
	now   func() time.Time // injectable for deterministic tests
}

// New creates an Engine. Zero option fields take their defaults.
func New(st store.Store, o Options) *Engine {
	if o.LatestFetch < 1 {
		o.LatestFetch = DefaultLatestFetch
	}
	if o.OfflineThreshold <= 0 {
		o.OfflineThreshold = telemetry.DefaultOfflineThreshold
	}
	if len(o.Bands) == 0 {
		o.Bands = telemetry.DefaultBands()
	}
	return &Engine{store: st, opts: o, now: time.Now}
}

// Now returns the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

// Latest returns the reading with the greatest timestamp among the last
// LatestFetch by store order, or nil when the trail has none.
func (e *Engine) Latest(ctx context.Context, trailID string) (*telemetry.StoredReading, error) {
	rs, err := e.store.ReadLatest(ctx, trailID, e.opts.LatestFetch)
	if err != nil {
		return nil, fmt.Errorf("latest %q: %w", trailID, err)
	}
	if len(rs) == 0 {
		return nil, nil
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Timestamp > rs[j].Timestamp })
	return &rs[0], nil
}

// Status returns the trail's current status and false when it has no
// readings.
func (e *Engine) Status(ctx context.Context, trailID string) (Status, bool, error) {
	latest, err := e.Latest(ctx, trailID)
	if err != nil || latest == nil {
		return Status{}, false, err
	}
	return e.status(trailID, *latest, e.now()), true, nil
}

func (e *Engine) status(trailID string, latest telemetry.StoredReading, now time.Time) Status {
	return Status{
		TrailID:   trailID,
		Latest:    latest,
		Condition: e.opts.Bands.Classify(latest.Moisture),
		Offline:   telemetry.IsOffline([]telemetry.Reading{latest.Reading}, now, e.opts.OfflineThreshold),
	}
}

// Snapshot returns the status of every trail with at least one reading,
// ordered by numeric trail id. It returns ErrNotFound when there are none.
func (e *Engine) Snapshot(ctx context.Context) ([]Status, error) {
	ids, err := e.store.ListTrailIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	telemetry.SortTrailIDs(ids)

	now := e.now()
	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		latest, err := e.Latest(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		if latest == nil {
			continue
		}
		out = append(out, e.status(id, *latest, now))
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// SnapshotWithHistory is Snapshot plus each trail's readings within w and
// the overall range of those readings.
func (e *Engine) SnapshotWithHistory(ctx context.Context, w time.Duration) (HistorySnapshot, error) {
	statuses, err := e.Snapshot(ctx)
	if err != nil {
		return HistorySnapshot{}, err
	}

	now := e.now()
	var (
		out      = HistorySnapshot{Trails: make([]TrailHistory, 0, len(statuses))}
		from, to int64
		seen     bool
	)
	for _, st := range statuses {
		rs, _, err := e.windowed(ctx, st.TrailID, now, w)
		if err != nil {
			return HistorySnapshot{}, fmt.Errorf("snapshot history: %w", err)
		}
		for _, r := range rs {
			if !seen || r.Timestamp < from {
				from = r.Timestamp
			}
			if !seen || r.Timestamp > to {
				to = r.Timestamp
			}
			seen = true
		}
		out.Trails = append(out.Trails, TrailHistory{Status: st, Readings: rs})
	}
	if seen {
		out.Range = &DataRange{From: time.UnixMilli(from).UTC(), To: time.UnixMilli(to).UTC()}
	}
	return out, nil
}

// History returns the trail's readings within w, a k-point moving average
// when k > 1, and its offline state and condition for that window.
func (e *Engine) History(ctx context.Context, trailID string, w time.Duration, k int) (History, error) {
	now := e.now()
	rs, total, err := e.windowed(ctx, trailID, now, w)
	if err != nil {
		return History{}, fmt.Errorf("history %q: %w", trailID, err)
	}
	if total == 0 {
		return History{}, ErrNotFound
	}

	h := History{
		TrailID:  trailID,
		Window:   w,
		Readings: rs,
		Offline:  telemetry.IsOffline(rs, now, e.opts.OfflineThreshold),
	}
	if k > 1 {
		h.Smoothed = telemetry.MovingAverage(rs, k)
	}
	if latest, ok := telemetry.Latest(rs); ok {
		h.Latest = &latest
		h.Condition = e.opts.Bands.Classify(latest.Moisture)
	}
	return h, nil
}

// windowed returns the trail's readings within w of now, oldest first, and
// how many readings the trail has in total.
func (e *Engine) windowed(ctx context.Context, trailID string, now time.Time, w time.Duration) ([]telemetry.Reading, int, error) {
	all, err := e.store.ReadAll(ctx, trailID)
	if err != nil {
		return nil, 0, err
	}
	rs := telemetry.FilterWindow(values(all), now, w)
	telemetry.SortByTime(rs)
	return rs, len(all), nil
}

func values(m map[string]telemetry.Reading) []telemetry.Reading {
	out := make([]telemetry.Reading, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out
}
