// Package telemetry defines the trail reading model shared by the server and
// the agent, plus the pure time-series functions the query side is built from.
//
// reading.go   - Reading, StoredReading, trail id validation and ordering,
//                the "<id>-readings" collection naming convention
// window.go    - FilterWindow and named windows (24h, 48h, week, month)
// smooth.go    - trailing MovingAverage
// condition.go - moisture bands and Classify
// offline.go   - IsOffline staleness check
// coerce.go    - Coerce, the numeric coercion applied to untrusted payloads
//
// Every function here is deterministic: callers pass "now" explicitly.
package telemetry
