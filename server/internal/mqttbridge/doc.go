// Package mqttbridge ingests soil-moisture readings published to an MQTT
// broker.
//
// The bridge subscribes to a topic filter with one single-level wildcard
// (default "trails/+/readings"); the level matched by "+" is the trail id.
// Payloads are JSON objects {"moisture": n, "battery": n} and go through the
// same ingest service as the HTTP and gRPC paths with source "mqtt".
//
// Broker credentials are the admission boundary for this transport. A
// per-trail token bucket (golang.org/x/time/rate) drops floods from a stuck
// sensor. Messages that cannot be decoded, fail validation or are rate
// limited are logged, counted and dropped; MQTT has no reply channel.
package mqttbridge
