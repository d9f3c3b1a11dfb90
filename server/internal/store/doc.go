// Package store is the reading store adapter: an append-only, per-trail
// ordered log of readings behind a small interface.
//
// Memory keeps everything in process. SQL persists to SQLite (the default
// durable backend, via modernc.org/sqlite) or PostgreSQL (via lib/pq).
// WithTimeout bounds every call and Instrument reports per-operation latency.
// All backend failures surface as ErrUnavailable.
package store
