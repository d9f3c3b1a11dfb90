// Package shipper sends scraped trail samples to trailwatch-server via gRPC
// (TelemetryService.SendReading unary RPC).
//
// Shipper.Ship() is non-blocking: samples are placed in an in-memory channel
// (default capacity 1000). When the buffer is full the oldest entry is
// evicted so the latest readings are always preserved.
//
// Shipper.Run() drains the buffer in a loop, reconnecting with truncated
// exponential backoff (1s→60s, ±25% jitter) on connection or send errors.
// A sample whose send failed transiently is retried first after reconnect.
// Permanent gRPC errors (Unauthenticated, PermissionDenied, InvalidArgument)
// discard the sample immediately rather than retrying.
//
// Readings carry no timestamp; the server stamps them on receipt.
//
// Auth: mTLS via credentials.NewTLS(), API key via gRPC metadata header,
// or insecure (plaintext) for local development.
package shipper
