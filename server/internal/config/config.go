package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trailwatch/trailwatch/pkg/telemetry"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort         = 50051
	DefaultHTTPPort         = 8080
	DefaultLogLevel         = "info"
	DefaultAuthHeader       = "x-api-key"
	DefaultCanonicalOrigin  = "https://trailsilvania.com"
	DefaultRateAlgorithm    = "sliding"
	DefaultRateRequests     = 30
	DefaultRateWindow       = time.Minute
	DefaultMaxClients       = 10_000
	DefaultStorageBackend   = "memory"
	DefaultStoragePath      = "data/trailwatch.db"
	DefaultStorageTimeout   = 5 * time.Second
	DefaultLatestFetch      = 5
	DefaultHistoryWindow    = telemetry.WindowWeek
	DefaultCacheMaxAge      = 30 * time.Second
	DefaultStreamHeartbeat  = 30 * time.Second
	DefaultMQTTTopic        = "trails/+/readings"
	DefaultMQTTPerTrailRate = time.Minute
	DefaultMQTTBurst        = 5
	DefaultAlertInterval    = 5 * time.Minute
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket stream and /metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort is the port the gateway receiver listens on. 0 disables it.
	GRPCPort int `yaml:"grpc_port"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	Auth      AuthConfig      `yaml:"auth"`
	Admission AdmissionConfig `yaml:"admission"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Query     QueryConfig     `yaml:"query"`
	Cache     CacheConfig     `yaml:"cache"`
	Stream    StreamConfig    `yaml:"stream"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// AuthConfig holds the shared secret that gates writes.
type AuthConfig struct {
	// KeyEnv is the name of the environment variable that holds the write API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header (and gRPC metadata key) carrying the key.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return DefaultAuthHeader
}

// AdmissionConfig controls which browser origins may read.
type AdmissionConfig struct {
	// RequireOrigin rejects reads that carry no Origin header when true.
	// When false, direct (non-browser) reads are allowed.
	RequireOrigin bool `yaml:"require_origin"`

	// AllowedOrigins is the generic origin allow-list.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// CanonicalOrigin is the production dashboard origin. It is always
	// admitted, whatever AllowedOrigins says. Set to "-" to disable.
	CanonicalOrigin string `yaml:"canonical_origin"`
}

// RateLimitConfig sets the per-client request quota.
type RateLimitConfig struct {
	// Algorithm is one of: fixed | sliding.
	Algorithm string `yaml:"algorithm"`

	// Requests is the number of requests admitted per Window.
	Requests int `yaml:"requests"`

	// Window is the quota period.
	Window time.Duration `yaml:"window"`

	// MaxClients caps the number of tracked client keys.
	MaxClients int `yaml:"max_clients"`

	// SweepInterval is how often expired client entries are removed.
	// Defaults to Window.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StorageConfig selects the reading store backend.
type StorageConfig struct {
	// Backend is one of: memory | sqlite | postgres.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file (backend sqlite).
	Path string `yaml:"path"`

	// DSNEnv names the environment variable holding the postgres DSN.
	DSNEnv string `yaml:"dsn_env"`

	// Timeout bounds every store call.
	Timeout time.Duration `yaml:"timeout"`
}

// DSN returns the postgres connection string resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// QueryConfig tunes the read side.
type QueryConfig struct {
	// LatestFetch is how many readings are fetched by store order when
	// looking up the latest one. Must be >= 1.
	LatestFetch int `yaml:"latest_fetch"`

	// OfflineThreshold is the staleness after which a trail shows as offline.
	OfflineThreshold time.Duration `yaml:"offline_threshold"`

	// HistoryWindow bounds multi-trail history queries (default 168h).
	HistoryWindow time.Duration `yaml:"history_window"`

	// Bands are the ascending moisture condition bands.
	Bands telemetry.Bands `yaml:"bands"`
}

// CacheConfig controls the Cache-Control header on read responses.
type CacheConfig struct {
	// MaxAge is the shared-cache lifetime. 0 disables the header.
	MaxAge time.Duration `yaml:"max_age"`
}

// StreamConfig controls the WebSocket hub.
type StreamConfig struct {
	// Heartbeat is the interval of unconditional snapshot rebroadcasts.
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// MQTTConfig configures the optional MQTT ingestion bridge.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883. Empty disables the bridge.
	Broker string `yaml:"broker"`

	// ClientID defaults to "trailwatch-server".
	ClientID string `yaml:"client_id"`

	// Topic is the subscription filter; the trail id is the second level.
	Topic string `yaml:"topic"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`

	// PerTrailInterval is the sustained minimum spacing between accepted
	// publishes for one trail; Burst allows short catch-up bursts.
	PerTrailInterval time.Duration `yaml:"per_trail_interval"`
	Burst            int           `yaml:"burst"`
}

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool { return m.Broker != "" }

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// Interval is how often every trail is re-evaluated, so trails that stop
	// reporting still fire offline rules.
	Interval time.Duration `yaml:"interval"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "moisture > 400", "battery < 15",
	// "age_minutes > 90", "offline == true", "condition == Slippery".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	fillDerived(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := defaults()
	fillDerived(cfg)
	return cfg
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			GRPCPort: DefaultGRPCPort,
			LogLevel: DefaultLogLevel,
			Admission: AdmissionConfig{
				CanonicalOrigin: DefaultCanonicalOrigin,
			},
			RateLimit: RateLimitConfig{
				Algorithm:  DefaultRateAlgorithm,
				Requests:   DefaultRateRequests,
				Window:     DefaultRateWindow,
				MaxClients: DefaultMaxClients,
			},
			Storage: StorageConfig{
				Backend: DefaultStorageBackend,
				Path:    DefaultStoragePath,
				Timeout: DefaultStorageTimeout,
			},
			Query: QueryConfig{
				LatestFetch:      DefaultLatestFetch,
				OfflineThreshold: telemetry.DefaultOfflineThreshold,
				HistoryWindow:    DefaultHistoryWindow,
			},
			Cache:  CacheConfig{MaxAge: DefaultCacheMaxAge},
			Stream: StreamConfig{Heartbeat: DefaultStreamHeartbeat},
			MQTT: MQTTConfig{
				ClientID:         "trailwatch-server",
				Topic:            DefaultMQTTTopic,
				PerTrailInterval: DefaultMQTTPerTrailRate,
				Burst:            DefaultMQTTBurst,
			},
			Alerts: AlertsConfig{Interval: DefaultAlertInterval},
		},
	}
}

// fillDerived sets defaults that depend on other fields or cannot be
// expressed as YAML zero values.
func fillDerived(cfg *Config) {
	s := &cfg.Server
	if len(s.Query.Bands) == 0 {
		s.Query.Bands = telemetry.DefaultBands()
	}
	if s.RateLimit.SweepInterval == 0 {
		s.RateLimit.SweepInterval = s.RateLimit.Window
	}
	if s.Admission.CanonicalOrigin == "-" {
		s.Admission.CanonicalOrigin = ""
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort < 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", s.GRPCPort)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	switch s.RateLimit.Algorithm {
	case "fixed", "sliding":
	default:
		return fmt.Errorf("server.rate_limit.algorithm %q unknown: want fixed|sliding", s.RateLimit.Algorithm)
	}
	if s.RateLimit.Requests <= 0 {
		return fmt.Errorf("server.rate_limit.requests must be positive")
	}
	if s.RateLimit.Window <= 0 {
		return fmt.Errorf("server.rate_limit.window must be positive")
	}
	if s.RateLimit.MaxClients <= 0 {
		return fmt.Errorf("server.rate_limit.max_clients must be positive")
	}
	switch s.Storage.Backend {
	case "memory", "sqlite":
	case "postgres":
		if s.Storage.DSNEnv == "" {
			return fmt.Errorf("server.storage.dsn_env is required for the postgres backend")
		}
	default:
		return fmt.Errorf("server.storage.backend %q unknown: want memory|sqlite|postgres", s.Storage.Backend)
	}
	if s.Storage.Backend == "sqlite" && s.Storage.Path == "" {
		return fmt.Errorf("server.storage.path is required for the sqlite backend")
	}
	if s.Storage.Timeout <= 0 {
		return fmt.Errorf("server.storage.timeout must be positive")
	}
	if s.Query.LatestFetch < 1 {
		return fmt.Errorf("server.query.latest_fetch must be at least 1")
	}
	if s.Query.OfflineThreshold <= 0 {
		return fmt.Errorf("server.query.offline_threshold must be positive")
	}
	if s.Query.HistoryWindow <= 0 {
		return fmt.Errorf("server.query.history_window must be positive")
	}
	if err := s.Query.Bands.Validate(); err != nil {
		return fmt.Errorf("server.query.bands: %w", err)
	}
	if s.Cache.MaxAge < 0 {
		return fmt.Errorf("server.cache.max_age must not be negative")
	}
	if s.Stream.Heartbeat <= 0 {
		return fmt.Errorf("server.stream.heartbeat must be positive")
	}
	if s.MQTT.Enabled() && s.MQTT.PerTrailInterval <= 0 {
		return fmt.Errorf("server.mqtt.per_trail_interval must be positive")
	}
	for _, r := range s.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("server.alerts.rules: every rule needs a name and a condition")
		}
	}
	return nil
}
