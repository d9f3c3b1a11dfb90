// Package api implements the HTTP surface of trailwatch-server.
//
// New(opts) returns an http.Handler that serves:
//
//	GET  /api/v1/trail?trailId=ID        latest reading of one trail (reading may be null)
//	GET  /api/v1/trails/{id}             same, with the id in the path
//	GET  /api/v1/trails                  snapshot of every trail; ?history=true&window=7d adds last7Days and dataRange
//	GET  /api/v1/trails/{id}/history     windowed readings, moving average, offline and condition
//	POST /api/v1/readings                ingest one reading (API key header required)
//	GET  /api/v1/health                  liveness and trail counts
//	GET  /api/v1/alerts                  firing and recently resolved alerts
//
// Every route runs CORS preflight, then admission, then rate limiting, then
// the handler. Successful GETs carry a short shared-cache lifetime. Every
// error is a JSON object with an "error" field.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
