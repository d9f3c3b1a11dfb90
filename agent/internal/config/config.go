package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultScrapeInterval = 30 * time.Second
	DefaultBufferSize     = 1000
	DefaultSendTimeout    = 10 * time.Second
	DefaultResendInterval = 15 * time.Minute
	DefaultLogLevel       = "info"
	DefaultKeyHeader      = "x-api-key"
	DefaultMoistureMetric = "trail_soil_moisture"
	DefaultBatteryMetric  = "trail_battery_percent"
	DefaultTrailLabel     = "trail"
)

// Config is the top-level configuration. Only the `agent:` section is read;
// the `server:` key in a shared file is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the gRPC address of trailwatch-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// ScrapeInterval controls how often each source is polled.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// BufferSize is the maximum number of samples held in memory when
	// the server is unreachable. The oldest sample is evicted first.
	BufferSize int `yaml:"buffer_size"`

	// SendTimeout bounds one SendReading call.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// ResendInterval re-ships an unchanged value without an exposition
	// timestamp so a quiet but healthy probe is not reported offline.
	// Zero ships unchanged values only once.
	ResendInterval time.Duration `yaml:"resend_interval"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// Sources is the list of sensor exporters to scrape.
	Sources []Source `yaml:"sources"`

	// ServerAuth configures how the agent authenticates to trailwatch-server.
	// Supported modes: mtls | apikey | none.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// Source describes one sensor exporter exposing Prometheus text metrics.
type Source struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Endpoint is the full URL of the exporter's metrics endpoint.
	Endpoint string `yaml:"endpoint"`

	// MoistureMetric, BatteryMetric and TrailLabel override the metric
	// and label names read from the exporter.
	MoistureMetric string `yaml:"moisture_metric"`
	BatteryMetric  string `yaml:"battery_metric"`
	TrailLabel     string `yaml:"trail_label"`

	// Auth configures how the agent authenticates to this source.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies an authentication mode.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header carries the API key (Mode == "apikey"). Defaults to x-api-key.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token (Mode == "bearer").
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth username (Mode == "basic").
	Username string `yaml:"username"`
	// PasswordEnv is the name of the environment variable that holds the password.
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns the lower-cased key header, or x-api-key.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultKeyHeader
	}
	return strings.ToLower(a.Header)
}

// TLSConfig holds per-source TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	fillSources(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ScrapeInterval: DefaultScrapeInterval,
			BufferSize:     DefaultBufferSize,
			SendTimeout:    DefaultSendTimeout,
			ResendInterval: DefaultResendInterval,
			LogLevel:       DefaultLogLevel,
		},
	}
}

// fillSources applies per-source metric name defaults.
func fillSources(cfg *Config) {
	for i := range cfg.Agent.Sources {
		src := &cfg.Agent.Sources[i]
		if src.MoistureMetric == "" {
			src.MoistureMetric = DefaultMoistureMetric
		}
		if src.BatteryMetric == "" {
			src.BatteryMetric = DefaultBatteryMetric
		}
		if src.TrailLabel == "" {
			src.TrailLabel = DefaultTrailLabel
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if a.ScrapeInterval <= 0 {
		return fmt.Errorf("agent.scrape_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.SendTimeout <= 0 {
		return fmt.Errorf("agent.send_timeout must be positive")
	}
	if a.ResendInterval < 0 {
		return fmt.Errorf("agent.resend_interval must not be negative")
	}
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("agent.log_level %q unknown: want debug|info|warn|error", a.LogLevel)
	}
	switch a.ServerAuth.Mode {
	case "mtls", "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}
	if a.ServerAuth.Mode == "apikey" && a.ServerAuth.KeyEnv == "" {
		return fmt.Errorf("agent.server_auth.key_env is required for apikey mode")
	}

	seen := make(map[string]bool, len(a.Sources))
	for i, src := range a.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if src.Endpoint == "" {
			return fmt.Errorf("sources[%d] %q: endpoint is required", i, src.ID)
		}
		switch src.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("sources[%d] %q: unknown auth mode %q", i, src.ID, src.Auth.Mode)
		}
	}
	return nil
}
