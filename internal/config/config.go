// Package config loads and validates mapcompute configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Indicator outputs understood by the CLI.
const (
	IndicatorOutputTerminal = "terminal"
	IndicatorOutputNone     = "none"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Indicator IndicatorConfig `mapstructure:"indicator"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DB        DBConfig        `mapstructure:"db"`
	Reload    ReloadConfig    `mapstructure:"reload"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// BackendConfig points at the map construction backend.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// TimeoutSeconds of 0 leaves requests unbounded.
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// PollerConfig controls the progress ping cadence.
type PollerConfig struct {
	IntervalMs int `mapstructure:"interval_ms"`
}

// IndicatorConfig mirrors the progress bar options.
type IndicatorConfig struct {
	Minimum     float64 `mapstructure:"minimum"`
	Trickle     bool    `mapstructure:"trickle"`
	ShowSpinner bool    `mapstructure:"show_spinner"`
	Output      string  `mapstructure:"output"`
}

// ServerConfig controls the local control API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig enables the Postgres run history when DSN is set.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ReloadConfig lists the object endpoints refreshed after a successful job.
type ReloadConfig struct {
	Objects   map[string]string `mapstructure:"objects"`
	OutputDir string            `mapstructure:"output_dir"`
	// GCSBucket stores reloaded objects in Cloud Storage instead of OutputDir.
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// PubSubConfig announces finished runs on a topic when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether run notifications should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig enables OpenTelemetry spans for backend calls.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MAPCOMPUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://localhost:8080")
	v.SetDefault("backend.timeout_seconds", 0)
	v.SetDefault("backend.requests_per_second", 0)
	v.SetDefault("poller.interval_ms", 2500)
	v.SetDefault("indicator.minimum", 0.08)
	v.SetDefault("indicator.trickle", false)
	v.SetDefault("indicator.show_spinner", false)
	v.SetDefault("indicator.output", IndicatorOutputTerminal)
	v.SetDefault("server.port", 9090)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("reload.objects", map[string]string{})
	v.SetDefault("reload.gcs_bucket", "")
	v.SetDefault("reload.gcs_prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.max_batch_events", 32)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "mapcompute")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute http(s) URL, got %q", c.Backend.BaseURL)
	}
	if c.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must be >= 0")
	}
	if c.Backend.RequestsPerSecond < 0 {
		return fmt.Errorf("backend.requests_per_second must be >= 0")
	}
	if c.Poller.IntervalMs <= 0 {
		return fmt.Errorf("poller.interval_ms must be > 0")
	}
	if c.Indicator.Minimum < 0 || c.Indicator.Minimum >= 1 {
		return fmt.Errorf("indicator.minimum must be in [0, 1)")
	}
	switch c.Indicator.Output {
	case IndicatorOutputTerminal, IndicatorOutputNone:
	default:
		return fmt.Errorf("indicator.output must be %q or %q", IndicatorOutputTerminal, IndicatorOutputNone)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in [0, 1]")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	for name, path := range c.Reload.Objects {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("reload.objects.%s must not be empty", name)
		}
	}
	return nil
}

// PollInterval converts poller.interval_ms into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalMs) * time.Millisecond
}

// RequestTimeout returns the per-request budget; zero means no timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// MaxBatchWait converts progress.max_batch_wait_ms into a duration.
func (c Config) MaxBatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
