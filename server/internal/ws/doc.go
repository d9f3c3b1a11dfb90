// Package ws implements the live-update WebSocket hub.
//
// A client connects to /ws/stream?prefix=<trail-prefix> and receives the
// full trail snapshot, restricted to trail ids starting with prefix (all
// trails when empty):
//
//   - immediately on connect,
//   - after every ingest that touches a matching trail (Hub.Notify),
//   - on every heartbeat tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot",
//	  "data":  { /* same schema as GET /api/v1/trails */ }
//	}
//
// The upgrader admits browser origins through the admission filter, using
// the same read policy as the REST API.
package ws
