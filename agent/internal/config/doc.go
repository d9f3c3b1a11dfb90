// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: the `agent:` section of the shared file
//   - AgentConfig: server_endpoint, scrape_interval, buffer_size,
//     send_timeout, resend_interval, log_level, sources [], server_auth
//   - Source: id, endpoint, metric/label overrides, auth, tls
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, password_env
//
// Load(path) reads the YAML file, applies defaults (30s scrape, 1000 buffer,
// 10s send timeout, 15m resend, trail_soil_moisture / trail_battery_percent keyed by the
// "trail" label), then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. The parent directory is watched so
// atomic-save editors that rename over the file are seen; bursts of events
// are debounced into one reload.
package config
