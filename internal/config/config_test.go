package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected base url %q", cfg.Backend.BaseURL)
	}
	if got := cfg.PollInterval(); got != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s poll interval, got %v", got)
	}
	if cfg.RequestTimeout() != 0 {
		t.Fatalf("expected unbounded requests by default, got %v", cfg.RequestTimeout())
	}
	if cfg.Indicator.Minimum != 0.08 || cfg.Indicator.Trickle || cfg.Indicator.ShowSpinner {
		t.Fatalf("unexpected indicator defaults: %+v", cfg.Indicator)
	}
	if cfg.Reload.GCSBucket != "" || cfg.PubSub.Enabled() {
		t.Fatalf("expected cloud outputs off by default: %+v %+v", cfg.Reload, cfg.PubSub)
	}
	if cfg.Tracing.Enabled || cfg.Tracing.ServiceName != "mapcompute" || cfg.Tracing.SampleRatio != 1 {
		t.Fatalf("unexpected tracing defaults: %+v", cfg.Tracing)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
backend:
  base_url: https://maps.example.com/app
  timeout_seconds: 30
  requests_per_second: 4
poller:
  interval_ms: 1000
indicator:
  minimum: 0.1
  output: none
server:
  port: 9191
auth:
  enabled: true
  api_key: secret
db:
  dsn: postgres://localhost/mapcompute
reload:
  output_dir: /tmp/objects
  gcs_bucket: map-objects
  gcs_prefix: nightly/
  objects:
    bundles: load_bundles
    network: load_network
progress:
  max_batch_wait_ms: 50
pubsub:
  project_id: maps-prod
  topic: map-runs
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.BaseURL != "https://maps.example.com/app" || cfg.Backend.RequestsPerSecond != 4 {
		t.Fatalf("expected backend overrides, got %+v", cfg.Backend)
	}
	if cfg.RequestTimeout() != 30*time.Second || cfg.PollInterval() != time.Second {
		t.Fatalf("unexpected durations: timeout=%v poll=%v", cfg.RequestTimeout(), cfg.PollInterval())
	}
	if cfg.Indicator.Output != IndicatorOutputNone || cfg.Indicator.Minimum != 0.1 {
		t.Fatalf("expected indicator overrides, got %+v", cfg.Indicator)
	}
	if cfg.Server.Port != 9191 || !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected server/auth overrides")
	}
	if cfg.DB.DSN == "" {
		t.Fatal("expected db dsn to load")
	}
	if len(cfg.Reload.Objects) != 2 || cfg.Reload.Objects["bundles"] != "load_bundles" {
		t.Fatalf("expected reload objects, got %+v", cfg.Reload.Objects)
	}
	if cfg.Reload.GCSBucket != "map-objects" || cfg.Reload.GCSPrefix != "nightly/" {
		t.Fatalf("expected gcs overrides, got %+v", cfg.Reload)
	}
	if !cfg.PubSub.Enabled() || cfg.PubSub.ProjectID != "maps-prod" || cfg.PubSub.Topic != "map-runs" {
		t.Fatalf("expected pubsub overrides, got %+v", cfg.PubSub)
	}
	if cfg.MaxBatchWait() != 50*time.Millisecond {
		t.Fatalf("expected 50ms batch wait, got %v", cfg.MaxBatchWait())
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MAPCOMPUTE_BACKEND_BASE_URL", "http://backend:4567")
	t.Setenv("MAPCOMPUTE_POLLER_INTERVAL_MS", "100")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BaseURL != "http://backend:4567" {
		t.Fatalf("expected env base url, got %q", cfg.Backend.BaseURL)
	}
	if cfg.PollInterval() != 100*time.Millisecond {
		t.Fatalf("expected env poll interval, got %v", cfg.PollInterval())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Backend:   BackendConfig{BaseURL: "http://localhost:8080"},
		Poller:    PollerConfig{IntervalMs: 2500},
		Indicator: IndicatorConfig{Minimum: 0.08, Output: IndicatorOutputTerminal},
		Server:    ServerConfig{Port: 9090},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative base url", func(c *Config) { c.Backend.BaseURL = "/app" }, "backend.base_url"},
		{"bad scheme", func(c *Config) { c.Backend.BaseURL = "ftp://host" }, "backend.base_url"},
		{"negative timeout", func(c *Config) { c.Backend.TimeoutSeconds = -1 }, "backend.timeout_seconds"},
		{"negative rate", func(c *Config) { c.Backend.RequestsPerSecond = -2 }, "backend.requests_per_second"},
		{"zero interval", func(c *Config) { c.Poller.IntervalMs = 0 }, "poller.interval_ms"},
		{"minimum too high", func(c *Config) { c.Indicator.Minimum = 1 }, "indicator.minimum"},
		{"unknown output", func(c *Config) { c.Indicator.Output = "gui" }, "indicator.output"},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"sample ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "tracing.sample_ratio"},
		{"pubsub topic without project", func(c *Config) { c.PubSub.Topic = "map-runs" }, "pubsub.project_id"},
		{"empty object path", func(c *Config) { c.Reload.Objects = map[string]string{"bundles": " "} }, "reload.objects.bundles"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
