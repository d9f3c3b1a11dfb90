// Package receiver implements wire.TelemetryServiceServer, the gRPC endpoint
// that accepts soil-moisture readings from field agents.
//
// Receiver.SendReading passes the request to the ingest service with source
// "grpc". Invalid payloads map to codes.InvalidArgument and store outages to
// codes.Unavailable. The API key and per-client quota are enforced upstream
// by the admission and ratelimit interceptors.
package receiver
