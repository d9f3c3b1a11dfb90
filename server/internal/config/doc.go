// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort / GRPCPort  - REST+stream listener (default 8080), gateway receiver (default 50051, 0 disables)
//   - Auth                 - write API key (KeyEnv) and header name (default "x-api-key")
//   - Admission            - require_origin policy, origin allow-list, canonical origin carve-out
//   - RateLimit            - fixed|sliding, requests per window (default 30/1m), client map cap
//   - Storage              - memory|sqlite|postgres and the per-call timeout
//   - Query                - latest fetch size, offline threshold (65m), history window, bands
//   - Cache / Stream       - Cache-Control max age, WebSocket heartbeat
//   - MQTT / Alerts        - optional ingestion bridge, alert rules and webhooks
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change; the server uses it to
// swap the admission policy without a restart.
package config
