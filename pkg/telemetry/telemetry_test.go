package telemetry

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
	"time"
)

func at(ms int64) time.Time { return time.UnixMilli(ms) }

func reading(m float64, ts int64) Reading { return Reading{Moisture: m, Timestamp: ts} }

// --- window -----------------------------------------------------------------

func TestFilterWindow_InclusiveEdge(t *testing.T) {
	rs := []Reading{reading(1, 499), reading(2, 500), reading(3, 900)}
	got := FilterWindow(rs, at(1000), 500*time.Millisecond)

	if len(got) != 2 {
		t.Fatalf("FilterWindow: got %d readings, want 2", len(got))
	}
	if got[0].Timestamp != 500 {
		t.Errorf("first retained timestamp: got %d, want 500", got[0].Timestamp)
	}
	if got[1].Timestamp != 900 {
		t.Errorf("second retained timestamp: got %d, want 900", got[1].Timestamp)
	}
}

func TestFilterWindow_Empty(t *testing.T) {
	if got := FilterWindow(nil, at(1000), time.Second); len(got) != 0 {
		t.Errorf("FilterWindow(nil): got %d readings, want 0", len(got))
	}
}

func TestInWindow_MatchesFilterWindow(t *testing.T) {
	now := at(10_000)
	w := 2 * time.Second
	for ts := int64(7_990); ts <= 8_010; ts++ {
		in := InWindow(ts, now, w)
		kept := len(FilterWindow([]Reading{reading(0, ts)}, now, w)) == 1
		if in != kept {
			t.Fatalf("ts=%d: InWindow=%v but FilterWindow kept=%v", ts, in, kept)
		}
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 7 * time.Hour, false},
		{"24h", Window24h, false},
		{"48h", Window48h, false},
		{"week", WindowWeek, false},
		{"7d", WindowWeek, false},
		{"MONTH", WindowMonth, false},
		{"90m", 90 * time.Minute, false},
		{"-5m", 0, true},
		{"fortnight", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseWindow(tt.in, 7*time.Hour)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseWindow(%q): err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseWindow(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

// --- smoothing --------------------------------------------------------------

func TestMovingAverage_TrailingWindow(t *testing.T) {
	rs := []Reading{reading(10, 1), reading(20, 2), reading(30, 3)}
	got := MovingAverage(rs, 2)
	want := []Point{{Moisture: 15, Timestamp: 2}, {Moisture: 25, Timestamp: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MovingAverage: got %+v, want %+v", got, want)
	}
}

func TestMovingAverage_KEqualsLen(t *testing.T) {
	rs := []Reading{reading(300, 1), reading(330, 2), reading(360, 3)}
	got := MovingAverage(rs, 3)
	if len(got) != 1 {
		t.Fatalf("len: got %d, want 1", len(got))
	}
	if got[0].Moisture != 330 || got[0].Timestamp != 3 {
		t.Errorf("point: got %+v, want {330 3}", got[0])
	}
}

func TestMovingAverage_TooShort(t *testing.T) {
	if got := MovingAverage([]Reading{reading(1, 1)}, 2); got != nil {
		t.Errorf("len < k: got %+v, want nil", got)
	}
	if got := MovingAverage([]Reading{reading(1, 1)}, 0); got != nil {
		t.Errorf("k=0: got %+v, want nil", got)
	}
}

func TestMovingAverage_KOneIsIdentity(t *testing.T) {
	rs := []Reading{reading(5, 1), reading(7, 2)}
	got := MovingAverage(rs, 1)
	if len(got) != 2 || got[0].Moisture != 5 || got[1].Moisture != 7 {
		t.Errorf("k=1: got %+v", got)
	}
}

// --- condition --------------------------------------------------------------

func TestClassify_Boundaries(t *testing.T) {
	b := DefaultBands()
	tests := []struct {
		v    float64
		want string
	}{
		{0, "Slippery"},
		{300, "Slippery"},
		{300.01, "Wet / Damp"},
		{330, "Wet / Damp"},
		{331, "Hero Dirt"},
		{350, "Hero Dirt"},
		{400, "Dry"},
		{400.5, "Dusty"},
		{10_000, "Dusty"},
	}
	for _, tt := range tests {
		if got := b.Classify(tt.v); got != tt.want {
			t.Errorf("Classify(%v): got %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestClassify_EmptyBands(t *testing.T) {
	if got := (Bands{}).Classify(12); got != "" {
		t.Errorf("Classify on empty bands: got %q, want empty", got)
	}
}

func TestBandsValidate(t *testing.T) {
	if err := DefaultBands().Validate(); err != nil {
		t.Errorf("DefaultBands: unexpected error %v", err)
	}
	bad := Bands{{Name: "a", Max: 10}, {Name: "b", Max: 5}, {Name: "c"}}
	if err := bad.Validate(); err == nil {
		t.Error("descending bands: expected error, got nil")
	}
	if err := (Bands{{Max: 1}}).Validate(); err == nil {
		t.Error("unnamed band: expected error, got nil")
	}
	if err := (Bands{}).Validate(); err == nil {
		t.Error("no bands: expected error, got nil")
	}
}

// --- offline ----------------------------------------------------------------

func TestIsOffline(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stale := []Reading{reading(320, Millis(now.Add(-70*time.Minute)))}
	fresh := []Reading{reading(320, Millis(now.Add(-60*time.Minute)))}

	if !IsOffline(stale, now, 65*time.Minute) {
		t.Error("reading 70m old: want offline")
	}
	if IsOffline(fresh, now, 65*time.Minute) {
		t.Error("reading 60m old: want online")
	}
	if !IsOffline(nil, now, 65*time.Minute) {
		t.Error("no readings: want offline")
	}
}

func TestIsOffline_UsesNewestNotLast(t *testing.T) {
	now := at(10 * 60_000)
	rs := []Reading{reading(1, Millis(now)), reading(2, 0)}
	if IsOffline(rs, now, time.Minute) {
		t.Error("newest reading is current: want online regardless of slice order")
	}
}

// --- trail ids --------------------------------------------------------------

func TestSortTrailIDs_Numeric(t *testing.T) {
	ids := []string{"10", "2", "north-loop", "1", "alpha"}
	SortTrailIDs(ids)
	want := []string{"1", "2", "10", "alpha", "north-loop"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("SortTrailIDs: got %v, want %v", ids, want)
	}
}

func TestValidTrailID(t *testing.T) {
	for _, ok := range []string{"1", "livada-upper", "A-9"} {
		if !ValidTrailID(ok) {
			t.Errorf("ValidTrailID(%q): want true", ok)
		}
	}
	for _, bad := range []string{"", "a b", "1/2", "x_y", "trail.1"} {
		if ValidTrailID(bad) {
			t.Errorf("ValidTrailID(%q): want false", bad)
		}
	}
}

func TestCollectionNaming(t *testing.T) {
	name := CollectionName("2")
	if name != "2-readings" {
		t.Fatalf("CollectionName: got %q, want 2-readings", name)
	}
	id, ok := TrailFromCollection(name)
	if !ok || id != "2" {
		t.Errorf("TrailFromCollection(%q): got (%q, %v), want (2, true)", name, id, ok)
	}
	for _, bad := range []string{"settings", "-readings", "a b-readings"} {
		if _, ok := TrailFromCollection(bad); ok {
			t.Errorf("TrailFromCollection(%q): want false", bad)
		}
	}
}

func TestLatest(t *testing.T) {
	if _, ok := Latest(nil); ok {
		t.Error("Latest(nil): want false")
	}
	r, ok := Latest([]Reading{reading(1, 5), reading(2, 9), reading(3, 7)})
	if !ok || r.Moisture != 2 {
		t.Errorf("Latest: got %+v, want moisture 2", r)
	}
}

// --- coercion ---------------------------------------------------------------

func TestCoerce(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{float64(312.5), 312.5, true},
		{json.Number("41"), 41, true},
		{"  330 ", 330, true},
		{7, 7, true},
		{"", 0, false},
		{"wet", 0, false},
		{nil, 0, false},
		{true, 0, false},
		{"NaN", 0, false},
		{math.Inf(1), 0, false},
		{map[string]any{"v": 1}, 0, false},
	}
	for _, tt := range tests {
		got, ok := Coerce(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Coerce(%#v): got (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
