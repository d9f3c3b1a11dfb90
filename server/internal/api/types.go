package api

import (
	"encoding/json"
	"time"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
	"github.com/trailwatch/trailwatch/server/internal/query"
)

// ReadingResponse is one reading on the wire.
type ReadingResponse struct {
	Moisture  float64  `json:"moisture"`
	Battery   *float64 `json:"battery,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// TrailResponse is the payload for GET /api/v1/trail and /api/v1/trails/{id}.
type TrailResponse struct {
	TrailID string           `json:"trailId"`
	Reading *ReadingResponse `json:"reading"`
	Cached  bool             `json:"cached"`
}

// TrailSummary is one entry of the multi-trail snapshot.
type TrailSummary struct {
	TrailID   string            `json:"trailId"`
	Moisture  float64           `json:"moisture"`
	Battery   *float64          `json:"battery,omitempty"`
	Timestamp int64             `json:"timestamp"`
	ReadingID string            `json:"readingId"`
	Condition string            `json:"condition"`
	Offline   bool              `json:"offline"`
	// Last7Days is nil outside the history variant and then omitted. In the
	// history variant it is always emitted, as [] when the window is empty.
	Last7Days []ReadingResponse `json:"last7Days,omitempty"`
}

// MarshalJSON emits last7Days whenever it is non-nil, even when empty.
func (s TrailSummary) MarshalJSON() ([]byte, error) {
	type plain TrailSummary
	if s.Last7Days == nil {
		return json.Marshal(plain(s))
	}
	return json.Marshal(struct {
		plain
		Last7Days []ReadingResponse `json:"last7Days"`
	}{plain(s), s.Last7Days})
}

// DataRangeResponse spans the included readings as RFC3339 instants.
type DataRangeResponse struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TrailsResponse is the payload for GET /api/v1/trails.
type TrailsResponse struct {
	Success   bool               `json:"success"`
	Trails    []TrailSummary     `json:"trails"`
	Count     int                `json:"count"`
	DataRange *DataRangeResponse `json:"dataRange,omitempty"`
}

// HistoryResponse is the payload for GET /api/v1/trails/{id}/history.
type HistoryResponse struct {
	TrailID   string            `json:"trailId"`
	Window    string            `json:"window"`
	Readings  []ReadingResponse `json:"readings"`
	Smoothed  []telemetry.Point `json:"smoothed,omitempty"`
	Latest    *ReadingResponse  `json:"latest"`
	Offline   bool              `json:"offline"`
	Condition string            `json:"condition,omitempty"`
}

// IngestRequest is the body of POST /api/v1/readings. Moisture and Battery
// are decoded loosely and validated by the ingest service.
type IngestRequest struct {
	TrailID  string `json:"trailId"`
	Moisture any    `json:"moisture"`
	Battery  any    `json:"battery,omitempty"`
}

// IngestResponse is the success payload of POST /api/v1/readings.
type IngestResponse struct {
	Success  bool     `json:"success"`
	Moisture float64  `json:"moisture"`
	Battery  *float64 `json:"battery,omitempty"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	TrailCount   int    `json:"trail_count"`
	OfflineCount int    `json:"offline_count"`
	AlertCount   int    `json:"alert_count"`
	Time         string `json:"time"` // RFC3339
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func toReading(r telemetry.Reading) ReadingResponse {
	return ReadingResponse{Moisture: r.Moisture, Battery: r.Battery, Timestamp: r.Timestamp}
}

func toReadings(rs []telemetry.Reading) []ReadingResponse {
	out := make([]ReadingResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, toReading(r))
	}
	return out
}

func toSummary(st query.Status) TrailSummary {
	return TrailSummary{
		TrailID:   st.TrailID,
		Moisture:  st.Latest.Moisture,
		Battery:   st.Latest.Battery,
		Timestamp: st.Latest.Timestamp,
		ReadingID: st.Latest.Key,
		Condition: st.Condition,
		Offline:   st.Offline,
	}
}

// BuildTrails shapes a snapshot into the wire contract.
func BuildTrails(statuses []query.Status) TrailsResponse {
	out := TrailsResponse{Success: true, Trails: make([]TrailSummary, 0, len(statuses))}
	for _, st := range statuses {
		out.Trails = append(out.Trails, toSummary(st))
	}
	out.Count = len(out.Trails)
	return out
}

// BuildTrailsWithHistory shapes a snapshot with history into the wire
// contract. A trail with no readings inside the window gets an empty last7Days.
func BuildTrailsWithHistory(snap query.HistorySnapshot) TrailsResponse {
	out := TrailsResponse{Success: true, Trails: make([]TrailSummary, 0, len(snap.Trails))}
	for _, th := range snap.Trails {
		s := toSummary(th.Status)
		s.Last7Days = toReadings(th.Readings)
		out.Trails = append(out.Trails, s)
	}
	out.Count = len(out.Trails)
	if snap.Range != nil {
		out.DataRange = &DataRangeResponse{
			From: snap.Range.From.UTC().Format(time.RFC3339),
			To:   snap.Range.To.UTC().Format(time.RFC3339),
		}
	}
	return out
}
