// Package scraper polls sensor exporters for soil-moisture readings.
//
// An exporter is any HTTP endpoint serving the Prometheus text exposition
// format, typically a LoRa or cellular gateway in front of the probes. Each
// trail is one series of the moisture gauge (default trail_soil_moisture)
// identified by a label (default "trail"); an optional battery gauge
// (default trail_battery_percent) is joined by the same label.
//
// Authentication (mTLS, API key, bearer token, basic) is handled by the
// shared authRoundTripper in base.go. New(config.Source) returns a Scraper
// with a pre-configured *http.Client.
package scraper
